// Package hash provides the domain-separated hashing used for seed
// derivation and hedged nonce generation, grounded directly on the
// blake3 keyed-hash pattern used for FROST nonce
// derivation in the reference threshold-signature protocol this module
// generalizes.
package hash

import (
	"crypto/sha256"

	"github.com/zeebo/blake3"
)

// DeriveKeyContext is the domain-separation string folded into every
// blake3.DeriveKey call in this module, distinguishing it from any other
// application that might derive keys from the same underlying secret.
const DeriveKeyContext = "vaultfrost/custody 2026 hedged-nonce derive"

// BytesWithDomain hashes data under an explicit domain tag so that the same
// underlying bytes hashed for two different purposes (e.g. a DKG seed vs.
// a signing-nonce seed) never collide.
func BytesWithDomain(domain string, data ...[]byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// HedgedNonceSeed implements the hedged, deterministic-but-unpredictable
// construction used to seed FROST signing nonces: a per-key hash key
// derived from the node's HSM-backed key material via blake3.DeriveKey, fed
// with an optional transcript, the message, and a fresh random salt.
// Colliding outputs here would leak the signing key, so the random salt is
// mandatory — see internal/rng for the caller that supplies it.
func HedgedNonceSeed(keyMaterial, transcript, message, salt []byte) []byte {
	hashKey := make([]byte, 32)
	blake3.DeriveKey(DeriveKeyContext, keyMaterial, hashKey)
	h, _ := blake3.NewKeyed(hashKey)
	_, _ = h.Write(transcript)
	_, _ = h.Write(message)
	_, _ = h.Write(salt)
	return h.Sum(nil)
}
