// Package noncehandle implements the sealed continuation that FROST
// signing nonces travel in: from a node's round 1 to its own round 2
// call, wrapped in an AEAD blob keyed by a per-process
// ephemeral key, binding (passphrase, message_hash, participant_id,
// creation_timestamp) as associated data so the handle can't be replayed
// for a different request or accepted once its TTL has elapsed.
package noncehandle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/vaultfrost/custody/pkg/party"
)

// DefaultTTL is the default handle expiry.
const DefaultTTL = 60 * time.Second

var (
	ErrExpired  = errors.New("noncehandle: expired")
	ErrMismatch = errors.New("noncehandle: passphrase or message mismatch")
)

// Sealer holds the per-process ephemeral AEAD key. A fresh Sealer is
// constructed at process start; nonce handles sealed by one process
// instance cannot be opened by another, which is acceptable because the
// node itself never needs to survive a restart mid-signing (round 1 and
// round 2 of a given signing request are expected to hit the same
// process).
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer() (*Sealer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

type payload struct {
	D         []byte `cbor:"1,keyasint"`
	E         []byte `cbor:"2,keyasint"`
	CreatedAt int64  `cbor:"3,keyasint"`
}

// Seal wraps a node's round-1 nonces, binding them to the passphrase,
// message hash, participant id, and creation time.
func (s *Sealer) Seal(passphrase string, messageHash []byte, id party.ID, d, e *big.Int) ([]byte, error) {
	dBuf := make([]byte, 32)
	eBuf := make([]byte, 32)
	d.FillBytes(dBuf)
	e.FillBytes(eBuf)

	p := payload{D: dBuf, E: eBuf, CreatedAt: time.Now().Unix()}
	plaintext, err := cbor.Marshal(p)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ad := associatedData(passphrase, messageHash, id, p.CreatedAt)
	ciphertext := s.aead.Seal(nil, nonce, plaintext, ad)

	out := make([]byte, 0, 8+len(nonce)+len(ciphertext))
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(p.CreatedAt))
	out = append(out, tsBuf...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open unseals a handle, verifying it was issued for exactly this
// (passphrase, messageHash, id) and has not exceeded ttl.
func (s *Sealer) Open(handle []byte, passphrase string, messageHash []byte, id party.ID, ttl time.Duration) (d, e *big.Int, err error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if len(handle) < 8+s.aead.NonceSize() {
		return nil, nil, fmt.Errorf("noncehandle: malformed handle")
	}
	createdAt := int64(binary.BigEndian.Uint64(handle[:8]))
	nonce := handle[8 : 8+s.aead.NonceSize()]
	ciphertext := handle[8+s.aead.NonceSize():]

	if time.Since(time.Unix(createdAt, 0)) > ttl {
		return nil, nil, ErrExpired
	}

	ad := associatedData(passphrase, messageHash, id, createdAt)
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		// AEAD open fails if the associated data (passphrase, message,
		// id) doesn't match exactly what was sealed — this is how
		// cross-message / cross-passphrase replay is rejected.
		return nil, nil, ErrMismatch
	}

	var p payload
	if err := cbor.Unmarshal(plaintext, &p); err != nil {
		return nil, nil, fmt.Errorf("noncehandle: decoding payload: %w", err)
	}
	return new(big.Int).SetBytes(p.D), new(big.Int).SetBytes(p.E), nil
}

func associatedData(passphrase string, messageHash []byte, id party.ID, createdAt int64) []byte {
	h := sha256.New()
	h.Write([]byte(passphrase))
	h.Write(messageHash)
	idBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idBuf, uint32(id))
	h.Write(idBuf)
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(createdAt))
	h.Write(tsBuf)
	return h.Sum(nil)
}
