// Package rng implements the deterministic randomness source: a
// ChaCha20 stream keyed by a value derived from the HSM, used both to
// make DKG fully reproducible and, with an additional
// message/salt fold, to generate signing nonces that must never repeat.
package rng

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/chacha20"

	"github.com/vaultfrost/custody/pkg/curve"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/hash"
)

// Purpose distinguishes the two randomness consumers: DKG needs full
// determinism for disaster recovery; signing nonces must never
// be purely deterministic from the key and message alone.
type Purpose string

const (
	PurposeDKG   Purpose = "dkg"
	PurposeNonce Purpose = "nonce"
)

// Signer is the minimal surface this package needs from the HSM-backed key
// provider: a deterministic MAC over a caller-supplied label.
type Signer interface {
	Sign(label string) ([]byte, error)
}

// Source is a seeded stream usable as a scalar generator. It is not safe
// for concurrent use; each signing/DKG call should construct its own via
// New.
type Source struct {
	group  curve.Group
	stream *chacha20.Cipher
}

// New derives the seed for (curve, passphrase, purpose) from the HSM and
// constructs a ChaCha20 stream keyed by it. For PurposeNonce, message and
// a fresh 16-byte OS-random salt must be supplied and are folded into the
// seed so that nonces never collide across distinct signing requests on
// the same key — colliding nonces leak the secret share for both Schnorr
// and ECDSA.
func New(group curve.Group, signer Signer, curveTag curvetag.Tag, passphrase string, purpose Purpose, message []byte) (*Source, error) {
	label := fmt.Sprintf("derive/%s/%s/%s", curveTag, purpose, passphrase)
	mac, err := signer.Sign(label)
	if err != nil {
		return nil, fmt.Errorf("rng: hsm sign for seed derivation: %w", err)
	}

	var seed []byte
	if purpose == PurposeNonce {
		if len(message) == 0 {
			return nil, fmt.Errorf("rng: nonce purpose requires a message hash")
		}
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("rng: reading os salt: %w", err)
		}
		// Hedged: the blake3-keyed construction folds in a fresh OS-random
		// salt so that two signing requests over the same key and message
		// never derive the same nonce stream, even though the HSM mac
		// itself is deterministic.
		seed = hash.HedgedNonceSeed(mac, []byte(label), message, salt)
	} else {
		digest := sha256.Sum256(mac)
		seed = digest[:]
	}

	stream, err := chacha20.NewUnauthenticatedCipher(seed, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, fmt.Errorf("rng: constructing chacha20 stream: %w", err)
	}
	return &Source{group: group, stream: stream}, nil
}

// Scalar fills scratch from the keyed stream and reduces the result mod
// the group order. Each call advances the stream, so successive calls
// yield successive, independent scalars — this satisfies the
// ciphersuite.Suite DKGPart1/SignRound1 rng contract.
func (s *Source) Scalar(scratch []byte) *big.Int {
	for i := range scratch {
		scratch[i] = 0
	}
	s.stream.XORKeyStream(scratch, scratch)
	return s.group.RandomScalar(scratch)
}

// Func adapts Source to the ciphersuite.Suite rng function signature.
func (s *Source) Func() func([]byte) *big.Int {
	return s.Scalar
}
