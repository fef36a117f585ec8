package hsm

import (
	"crypto/sha256"
	"fmt"

	"github.com/miekg/pkcs11"
)

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// sessionQueue is a thread-safe pool of open PKCS#11 sessions, grounded on
// opentitan-provisioning's src/spm/services/se_pk11.go sessionQueue: a
// buffered channel of handles with insert/getHandle semantics so that
// concurrent Sign calls from the node's HTTP handlers don't serialize on
// a single session more than the device itself requires.
type sessionQueue struct {
	ch chan pkcs11.SessionHandle
}

func newSessionQueue(cap int) *sessionQueue {
	return &sessionQueue{ch: make(chan pkcs11.SessionHandle, cap)}
}

func (q *sessionQueue) insert(s pkcs11.SessionHandle) { q.ch <- s }

func (q *sessionQueue) getHandle() (pkcs11.SessionHandle, func()) {
	s := <-q.ch
	return s, func() { q.insert(s) }
}

// PKCS11Provider signs labels using a P-256 key object held in a real or
// emulated PKCS#11 token, addressed by a library path, slot, and key
// label.
type PKCS11Provider struct {
	lockState
	ctx      *pkcs11.Ctx
	slotID   uint
	keyLabel string
	label    string

	sessions *sessionQueue
	key      pkcs11.ObjectHandle
	pin      string
}

var _ Provider = (*PKCS11Provider)(nil)

// NewPKCS11Provider loads the PKCS#11 shared library at libPath and sizes
// a pool of numSessions sessions against slotID; the sessions are opened
// and logged in by Unlock. The key identified by keyLabel is also looked
// up on Unlock, since PKCS#11 object handles are only valid within a
// logged-in session.
func NewPKCS11Provider(libPath string, slotID uint, keyLabel string, numSessions int, maxAttempts int) (*PKCS11Provider, error) {
	ctx := pkcs11.New(libPath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: failed to load pkcs11 library %s", ErrDeviceUnavailable, libPath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if numSessions <= 0 {
		numSessions = 4
	}
	return &PKCS11Provider{
		lockState: newLockState(maxAttempts),
		ctx:       ctx,
		slotID:    slotID,
		keyLabel:  keyLabel,
		label:     fmt.Sprintf("pkcs11:slot=%d,label=%s", slotID, keyLabel),
		sessions:  newSessionQueue(numSessions),
	}, nil
}

func (p *PKCS11Provider) Unlock(pin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedOut {
		return ErrInvalidPin
	}

	for i := 0; i < cap(p.sessions.ch); i++ {
		sh, err := p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return fmt.Errorf("%w: opening session: %v", ErrDeviceUnavailable, err)
		}
		if err := p.ctx.Login(sh, pkcs11.CKU_USER, pin); err != nil {
			p.ctx.CloseSession(sh)
			p.failedAttempts++
			if p.failedAttempts >= p.maxAttempts {
				p.lockedOut = true
			}
			return ErrInvalidPin
		}
		p.sessions.insert(sh)
	}

	sh, release := p.sessions.getHandle()
	defer release()
	key, err := findKeyByLabel(p.ctx, sh, p.keyLabel)
	if err != nil {
		return fmt.Errorf("%w: locating key %q: %v", ErrDeviceUnavailable, p.keyLabel, err)
	}
	p.key = key
	p.pin = pin
	p.unlocked = true
	p.failedAttempts = 0
	return nil
}

func (p *PKCS11Provider) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < cap(p.sessions.ch); i++ {
		select {
		case sh := <-p.sessions.ch:
			p.ctx.Logout(sh)
			p.ctx.CloseSession(sh)
		default:
		}
	}
	p.unlocked = false
}

func (p *PKCS11Provider) Unlocked() bool {
	return p.isUnlocked()
}

func (p *PKCS11Provider) Sign(label string) ([]byte, error) {
	if !p.isUnlocked() {
		return nil, ErrLocked
	}
	sh, release := p.sessions.getHandle()
	defer release()

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := p.ctx.SignInit(sh, mech, p.key); err != nil {
		return nil, fmt.Errorf("%w: sign init: %v", ErrDeviceUnavailable, err)
	}
	digest := sha256Sum([]byte(label))
	sig, err := p.ctx.Sign(sh, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrDeviceUnavailable, err)
	}
	return sig, nil
}

func (p *PKCS11Provider) DeviceLabel() string {
	return p.label
}

func findKeyByLabel(ctx *pkcs11.Ctx, sh pkcs11.SessionHandle, label string) (pkcs11.ObjectHandle, error) {
	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := ctx.FindObjectsInit(sh, tmpl); err != nil {
		return 0, err
	}
	defer ctx.FindObjectsFinal(sh)
	handles, _, err := ctx.FindObjects(sh, 1)
	if err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, fmt.Errorf("no key found with label %q", label)
	}
	return handles[0], nil
}
