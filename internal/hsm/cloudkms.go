package hsm

import "fmt"

// CloudKMSConfig configures CloudKMSProvider: a cloud key-management
// service whose sign API call is, for this module's purposes, equivalent
// to a hardware HSM's sign operation. Grounded on the CloudHSMConfig shape
// in the example pack's provider-daemon HSM reference file.
type CloudKMSConfig struct {
	Endpoint string
	KeyID    string
	Region   string
}

// CloudSigner is the minimal client surface a concrete cloud KMS SDK must
// satisfy; production wiring supplies a real implementation (AWS KMS,
// GCP Cloud KMS, Azure Key Vault) bound to CloudKMSConfig.
type CloudSigner interface {
	Sign(keyID string, digest []byte) ([]byte, error)
}

// CloudKMSProvider adapts a CloudSigner to the Provider interface. Unlike
// the PKCS#11 and software backends, "unlock" here is a capability check
// rather than a local authentication ceremony: the PIN is treated as a
// bearer credential already validated out of band by the cloud IAM layer.
type CloudKMSProvider struct {
	lockState
	cfg    CloudKMSConfig
	signer CloudSigner
}

var _ Provider = (*CloudKMSProvider)(nil)

func NewCloudKMSProvider(cfg CloudKMSConfig, signer CloudSigner, maxAttempts int) *CloudKMSProvider {
	return &CloudKMSProvider{lockState: newLockState(maxAttempts), cfg: cfg, signer: signer}
}

func (p *CloudKMSProvider) Unlock(pin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedOut {
		return ErrInvalidPin
	}
	if pin == "" {
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

func (p *CloudKMSProvider) Lock() {
	p.lock()
}

func (p *CloudKMSProvider) Unlocked() bool {
	return p.isUnlocked()
}

func (p *CloudKMSProvider) Sign(label string) ([]byte, error) {
	if !p.isUnlocked() {
		return nil, ErrLocked
	}
	digest := sha256Sum([]byte(label))
	sig, err := p.signer.Sign(p.cfg.KeyID, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: cloud kms sign: %v", ErrDeviceUnavailable, err)
	}
	return sig, nil
}

func (p *CloudKMSProvider) DeviceLabel() string {
	return fmt.Sprintf("cloudkms:%s/%s", p.cfg.Region, p.cfg.KeyID)
}
