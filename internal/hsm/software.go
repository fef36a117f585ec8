package hsm

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// SoftwareProvider derives signatures from a process-local root secret via
// HMAC-SHA256 instead of real hardware. Used in tests and local/dev
// deployments; the PIN is checked against a fixed value configured at
// construction rather than a hardware authentication ceremony.
type SoftwareProvider struct {
	lockState
	rootSecret []byte
	pin        string
	label      string
}

var _ Provider = (*SoftwareProvider)(nil)

// NewSoftwareProvider builds a stub provider keyed by rootSecret. pin is
// the value Unlock must be called with; rootSecret never leaves the
// process.
func NewSoftwareProvider(label, pin string, rootSecret []byte, maxAttempts int) *SoftwareProvider {
	return &SoftwareProvider{
		lockState:  newLockState(maxAttempts),
		rootSecret: append([]byte(nil), rootSecret...),
		pin:        pin,
		label:      label,
	}
}

func (p *SoftwareProvider) Unlock(pin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedOut {
		return ErrInvalidPin
	}
	if subtle.ConstantTimeCompare([]byte(pin), []byte(p.pin)) != 1 {
		p.failedAttempts++
		if p.failedAttempts >= p.maxAttempts {
			p.lockedOut = true
		}
		return ErrInvalidPin
	}
	p.unlocked = true
	p.failedAttempts = 0
	return nil
}

func (p *SoftwareProvider) Lock() {
	p.lock()
}

func (p *SoftwareProvider) Unlocked() bool {
	return p.isUnlocked()
}

func (p *SoftwareProvider) Sign(label string) ([]byte, error) {
	if !p.isUnlocked() {
		return nil, ErrLocked
	}
	mac := hmac.New(sha256.New, p.rootSecret)
	mac.Write([]byte(label))
	return mac.Sum(nil), nil
}

func (p *SoftwareProvider) DeviceLabel() string {
	return p.label
}
