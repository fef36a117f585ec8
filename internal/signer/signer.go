// Package signer implements the node-side FROST signing state machine:
// round1 derives nonces and seals them into a nonce_handle, round2
// unseals, enforces single-use and message binding,
// and produces this node's signature share. The node holds no state
// between rounds beyond the sealer's ephemeral key and a bounded
// recently-consumed set used to reject a handle replayed within its TTL
// window for the *same* message (TTL and message binding alone permit one
// accepted use; single-use needs an explicit check as well).
package signer

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/vaultfrost/custody/internal/noncehandle"
	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/party"
)

var (
	ErrMessageMismatch = errors.New("signer: nonce handle was issued for a different message or passphrase")
	ErrHandleConsumed  = errors.New("signer: nonce handle already used")
	ErrExpired         = noncehandle.ErrExpired
	ErrKeyNotFound     = errors.New("signer: no dkg has been run for this passphrase/curve")
)

// Node drives round1/round2 for a single node process.
type Node struct {
	sealer *noncehandle.Sealer
	ttl    time.Duration

	mu       sync.Mutex
	consumed map[string]time.Time
}

func NewNode(sealer *noncehandle.Sealer, ttl time.Duration) *Node {
	if ttl <= 0 {
		ttl = noncehandle.DefaultTTL
	}
	return &Node{sealer: sealer, ttl: ttl, consumed: make(map[string]time.Time)}
}

// Round1Result is what the HTTP layer returns to the caller: public
// commitments plus the opaque sealed handle the caller must present,
// unmodified, to Round2.
type Round1Result struct {
	Commitments ciphersuite.SigningCommitment
	Handle      []byte
}

// Round1 generates fresh nonces from rng (the caller has already salted
// it with the message hash and fresh OS randomness for the nonce
// purpose) and seals them into a nonce_handle bound to (passphrase,
// messageHash, id). key and participants are this node's key package and
// the signing quorum's membership; only the ECDSA suite uses them (to
// pairwise-seal its ephemeral nonce contribution to the rest of the
// quorum), but every suite receives them for interface uniformity.
func (n *Node) Round1(suite ciphersuite.Suite, key ciphersuite.KeyPackage, participants party.IDSlice, id party.ID, passphrase string, messageHash []byte, rng func([]byte) *big.Int) (Round1Result, error) {
	nonces, commitments, err := suite.SignRound1(key, participants, rng)
	if err != nil {
		return Round1Result{}, err
	}
	commitments.ID = id
	handle, err := n.sealer.Seal(passphrase, messageHash, id, nonces.D, nonces.E)
	if err != nil {
		return Round1Result{}, err
	}
	return Round1Result{Commitments: commitments, Handle: handle}, nil
}

// Round2 unseals handle, verifying it was issued for exactly (passphrase,
// messageHash, id), rejects it if already consumed or past its TTL, and
// produces this node's signature share over the full commitment set.
func (n *Node) Round2(suite ciphersuite.Suite, key ciphersuite.KeyPackage, passphrase string, message, messageHash []byte, id party.ID, handle []byte, allCommitments []ciphersuite.SigningCommitment) (ciphersuite.SignatureShare, error) {
	digest := handleDigest(handle)

	n.mu.Lock()
	now := time.Now()
	n.gc(now)
	if _, used := n.consumed[digest]; used {
		n.mu.Unlock()
		return ciphersuite.SignatureShare{}, ErrHandleConsumed
	}
	n.mu.Unlock()

	d, e, err := n.sealer.Open(handle, passphrase, messageHash, id, n.ttl)
	if err != nil {
		if errors.Is(err, noncehandle.ErrExpired) {
			return ciphersuite.SignatureShare{}, ErrExpired
		}
		return ciphersuite.SignatureShare{}, ErrMessageMismatch
	}

	n.mu.Lock()
	if _, used := n.consumed[digest]; used {
		n.mu.Unlock()
		return ciphersuite.SignatureShare{}, ErrHandleConsumed
	}
	n.consumed[digest] = now
	n.mu.Unlock()

	return suite.SignRound2(key, ciphersuite.Nonces{D: d, E: e}, message, allCommitments)
}

func (n *Node) gc(now time.Time) {
	for k, t := range n.consumed {
		if now.Sub(t) > n.ttl {
			delete(n.consumed, k)
		}
	}
}

func handleDigest(handle []byte) string {
	sum := sha256.Sum256(handle)
	return string(sum[:])
}
