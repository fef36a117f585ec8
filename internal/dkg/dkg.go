// Package dkg implements the node-side DKG state machine:
// Idle -> Round1Emitted -> Round1Received -> Round2Emitted ->
// Round2Received -> Finalized, generalizing the round-based structure of
// the reference library's pkg/protocol.MultiHandler into an HTTP-driven
// machine (no in-process channel messaging; state travels explicitly
// between calls keyed by passphrase). A Session passes through
// Round1Received and Round2Received inside a single Round2 or Finalize
// call, so State reports only Idle, Round1Emitted, Round2Emitted and
// Finalized.
package dkg

import (
	"errors"
	"math/big"
	"sync"

	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/party"
)

// State names the DKG lifecycle stage for a given (curve, passphrase).
type State int

const (
	Idle State = iota
	Round1Emitted
	Round1Received
	Round2Emitted
	Round2Received
	Finalized
)

// ErrIncompleteRoster is returned when the received participant set for a
// round is not exactly [0, N) — a missing or duplicated identifier aborts
// DKG.
var ErrIncompleteRoster = errors.New("dkg: incomplete or malformed roster")

// ErrWrongState is returned when a call arrives out of sequence for the
// session's current lifecycle stage.
var ErrWrongState = errors.New("dkg: call received out of sequence")

// ErrInvalidPackage wraps a ciphersuite-level validation failure (bad
// proof of knowledge, bad share) as a Protocol-class error.
type ErrInvalidPackage struct{ Cause error }

func (e *ErrInvalidPackage) Error() string { return "dkg: invalid package: " + e.Cause.Error() }
func (e *ErrInvalidPackage) Unwrap() error { return e.Cause }

// Session tracks one (curve, passphrase) DKG run on this node. The caller
// (internal/httpapi) is responsible for keying a map of these by
// passphrase and for passing the deterministic randomness source.
type Session struct {
	mu sync.Mutex

	suite     ciphersuite.Suite
	id        party.ID
	n         int
	threshold int

	state       State
	secretState []byte
	round1      map[party.ID]ciphersuite.DKGRound1Package
	round2      map[party.ID]ciphersuite.DKGRound2Package
}

func NewSession(suite ciphersuite.Suite, id party.ID, n, threshold int) *Session {
	return &Session{suite: suite, id: id, n: n, threshold: threshold, state: Idle}
}

// Round1 generates this node's polynomial and commitment broadcast. rng
// must be the deterministic, DKG-purpose randomness source for this
// (curve, passphrase), so that replaying DKG after a lost store
// reproduces byte-identical output.
func (s *Session) Round1(rng func([]byte) *big.Int) (ciphersuite.DKGRound1Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ciphersuite.DKGRound1Package{}, ErrWrongState
	}

	secretState, pkg, err := s.suite.DKGPart1(s.id, s.threshold, s.n, rng)
	if err != nil {
		return ciphersuite.DKGRound1Package{}, &ErrInvalidPackage{Cause: err}
	}
	s.secretState = secretState
	s.state = Round1Emitted
	return pkg, nil
}

// Round2 accepts every node's round-1 package (this node's own entry
// included, and dropped before calling into the ciphersuite), validates
// roster completeness, and produces this node's personalized round-2
// packages.
func (s *Session) Round2(received map[party.ID]ciphersuite.DKGRound1Package) ([]ciphersuite.DKGRound2Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Round1Emitted {
		return nil, ErrWrongState
	}
	if err := validateRoster(received, s.n); err != nil {
		return nil, err
	}

	withoutSelf := make(map[party.ID]ciphersuite.DKGRound1Package, len(received)-1)
	for id, pkg := range received {
		if id == s.id {
			continue
		}
		withoutSelf[id] = pkg
	}

	newSecretState, out, err := s.suite.DKGPart2(s.id, s.secretState, withoutSelf)
	if err != nil {
		return nil, &ErrInvalidPackage{Cause: err}
	}

	s.secretState = newSecretState
	s.round1 = received
	s.state = Round2Emitted
	return out, nil
}

// Finalize consumes every peer's round-2 package addressed to this node
// and derives the long-term key/pubkey packages. Re-running Finalize for
// the same passphrase with the same deterministic inputs reproduces
// byte-identical output; callers achieve this by re-running the whole
// session from Round1 rather than calling Finalize twice on one Session.
func (s *Session) Finalize(received map[party.ID]ciphersuite.DKGRound2Package) (ciphersuite.KeyPackage, ciphersuite.PubkeyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Round2Emitted {
		return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, ErrWrongState
	}

	addressedToSelf := make(map[party.ID]ciphersuite.DKGRound2Package, len(received))
	for from, pkg := range received {
		if pkg.To != s.id {
			continue
		}
		addressedToSelf[from] = pkg
	}
	if len(addressedToSelf) != s.n-1 {
		return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, ErrIncompleteRoster
	}

	key, pub, err := s.suite.DKGPart3(s.id, s.secretState, s.round1, addressedToSelf)
	if err != nil {
		return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, &ErrInvalidPackage{Cause: err}
	}
	s.state = Finalized
	return key, pub, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// validateRoster checks that the received participant set is exactly
// [0, N) with no duplicates or gaps. IDs here are this module's 0-based
// node indices; the underlying ciphersuite translates to 1-based scalars
// via party.ID.Scalar.
func validateRoster(received map[party.ID]ciphersuite.DKGRound1Package, n int) error {
	if len(received) != n {
		return ErrIncompleteRoster
	}
	seen := make(map[party.ID]bool, n)
	for id := range received {
		if uint32(id) >= uint32(n) {
			return ErrIncompleteRoster
		}
		if seen[id] {
			return ErrIncompleteRoster
		}
		seen[id] = true
	}
	if len(seen) != n {
		return ErrIncompleteRoster
	}
	return nil
}
