// Package ciphersuite defines the uniform operation set implemented three
// times, once per supported curve: dkg_part1/2/3 and
// round1/round2/aggregate/verify. This generalizes the reference
// threshold-signature library's FROST/CMP protocol adapters
// (protocols/adapters/frost_adapter.go) into a single tagged-variant
// interface the node-side state machines and HTTP router are generic over.
package ciphersuite

import (
	"math/big"

	"github.com/vaultfrost/custody/pkg/curve"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/party"
)

// DKGRound1Package is the broadcast message every node sends at the start
// of DKG: a Pedersen commitment to its secret polynomial's coefficients,
// plus a Schnorr proof of knowledge of the constant term so that peers can
// reject a malformed or adversarial contribution before round 2.
type DKGRound1Package struct {
	From             party.ID    `cbor:"1,keyasint"`
	Commitments      [][]byte    `cbor:"2,keyasint"`
	PoKCommitment    []byte      `cbor:"3,keyasint"`
	PoKResponse      []byte      `cbor:"4,keyasint"`
}

// DKGRound2Package is the personalized share one node sends to exactly one
// peer: that peer's point on the sender's secret polynomial, sealed under
// a pairwise key derived from both parties' round-1 commitments so that
// only the intended recipient can read it.
type DKGRound2Package struct {
	From       party.ID `cbor:"1,keyasint"`
	To         party.ID `cbor:"2,keyasint"`
	Nonce      []byte   `cbor:"3,keyasint"`
	Ciphertext []byte   `cbor:"4,keyasint"`
}

// KeyPackage is this node's long-term DKG output: its secret share, the
// group verifying key, and every participant's verification share.
// Stored exactly once at finalize.
type KeyPackage struct {
	Curve              curvetag.Tag      `cbor:"1,keyasint"`
	ID                 party.ID          `cbor:"2,keyasint"`
	Threshold          int               `cbor:"3,keyasint"`
	MaxSigners         int               `cbor:"4,keyasint"`
	SecretShare        []byte            `cbor:"5,keyasint"`
	GroupPublicKey     []byte            `cbor:"6,keyasint"`
	VerificationShares map[uint32][]byte `cbor:"7,keyasint"`
}

// PubkeyPackage is the cached, store-once artifact used for fast address
// lookups and signature-aggregation verification.
type PubkeyPackage struct {
	Curve              curvetag.Tag      `cbor:"1,keyasint"`
	Threshold          int               `cbor:"2,keyasint"`
	MaxSigners         int               `cbor:"3,keyasint"`
	GroupPublicKey     []byte            `cbor:"4,keyasint"`
	VerificationShares map[uint32][]byte `cbor:"5,keyasint"`
}

// SigningCommitment is a single node's round-1 public nonce commitments
// (D, E) for one signing request.
type SigningCommitment struct {
	ID party.ID `cbor:"1,keyasint"`
	D  []byte   `cbor:"2,keyasint"`
	E  []byte   `cbor:"3,keyasint"`

	// Sealed carries, for the ecdsa suite only, this node's ephemeral
	// nonce contribution k_i pairwise-sealed to every other quorum
	// member under the static ECDH-shaped secret s_i*Y_j. The schnorr
	// and eddsa suites leave this nil;
	// their (D, E) hiding/binding pair needs no pairwise reveal.
	Sealed []SealedNonceEnvelope `cbor:"4,keyasint,omitempty"`
}

// SealedNonceEnvelope is one pairwise-encrypted nonce contribution
// addressed to a single recipient, broadcast alongside the public
// commitment set so the aggregator can relay it without ever seeing the
// plaintext k_i.
type SealedNonceEnvelope struct {
	To         party.ID `cbor:"1,keyasint"`
	Nonce      []byte   `cbor:"2,keyasint"`
	Ciphertext []byte   `cbor:"3,keyasint"`
}

// SignatureShare is one node's round-2 contribution to the aggregated
// signature.
type SignatureShare struct {
	ID    party.ID `cbor:"1,keyasint"`
	Share []byte   `cbor:"2,keyasint"`
}

// Nonces is the per-node round-1 secret output, never sent over the wire
// directly — it is wrapped in an AEAD-sealed nonce_handle by
// internal/noncehandle and carried back to this same node's round 2 call.
type Nonces struct {
	D *big.Int
	E *big.Int
}

// Suite is the tagged-variant capability set that maps dynamic dispatch
// over three curves onto a single capability set. Each ciphersuite
// package provides exactly one implementation.
type Suite interface {
	Tag() string
	Group() curve.Group

	// DKGPart1 generates this node's secret polynomial (seeded from rng,
	// the deterministic DKG-purpose randomness source) and the broadcast
	// commitment package. rng is a stream-backed scalar source: each call
	// fills the provided scratch slice from the underlying keyed CSPRNG
	// and reduces it mod the group order, so successive calls with the
	// same scratch slice yield successive, independent scalars — callers
	// must not expect rng to be a pure function of the slice's contents.
	DKGPart1(id party.ID, threshold, maxSigners int, rng func([]byte) *big.Int) (secretState []byte, pkg DKGRound1Package, err error)

	// DKGPart2 validates every peer's round-1 package (rejecting an
	// identity-point constant-term commitment or a bad PoK) and produces
	// this node's personalized round-2 package for every peer.
	DKGPart2(id party.ID, secretState []byte, received map[party.ID]DKGRound1Package) (newSecretState []byte, out []DKGRound2Package, err error)

	// DKGPart3 consumes every peer's round-2 package addressed to this
	// node plus the full round-1 commitment set, and derives the final
	// KeyPackage/PubkeyPackage.
	DKGPart3(id party.ID, secretState []byte, round1 map[party.ID]DKGRound1Package, round2 map[party.ID]DKGRound2Package) (KeyPackage, PubkeyPackage, error)

	// SignRound1 derives fresh nonces from rng (already salted with the
	// message hash and OS randomness by the caller) and returns the
	// public commitments. Nonces themselves never leave this call; the
	// caller is responsible for sealing them into a nonce_handle. key
	// and participants are this node's own key package and the signing
	// quorum's membership; the Schnorr and Ed25519 suites ignore both, but
	// the ECDSA suite needs them to pairwise-seal its ephemeral nonce
	// contribution to every other quorum member.
	SignRound1(key KeyPackage, participants party.IDSlice, rng func([]byte) *big.Int) (Nonces, SigningCommitment, error)

	// SignRound2 produces this node's signature share given its key
	// package, its own round-1 nonces, the message, and every
	// participant's commitments (ordered by participant id).
	SignRound2(key KeyPackage, nonces Nonces, message []byte, commitments []SigningCommitment) (SignatureShare, error)

	// Aggregate combines signature shares into a final signature. Runs at
	// the aggregator, never at a node.
	Aggregate(pub PubkeyPackage, message []byte, commitments []SigningCommitment, shares []SignatureShare) ([]byte, error)

	// Verify checks a signature against the group public key.
	Verify(pub PubkeyPackage, message, signature []byte) bool
}
