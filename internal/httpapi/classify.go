package httpapi

import (
	"errors"

	idkg "github.com/vaultfrost/custody/internal/dkg"
	"github.com/vaultfrost/custody/internal/errs"
	"github.com/vaultfrost/custody/internal/signer"
	"github.com/vaultfrost/custody/internal/store"
)

// classifyDKGErr maps internal/dkg's sentinel/wrapped errors onto the
// typed error taxonomy so every handler reports a consistent status
// code rather than falling through to a generic 500.
func classifyDKGErr(err error) error {
	var invalid *idkg.ErrInvalidPackage
	switch {
	case errors.Is(err, idkg.ErrWrongState):
		return errs.Wrap(errs.State, "dkg call received out of sequence", err)
	case errors.Is(err, idkg.ErrIncompleteRoster):
		return errs.Wrap(errs.Input, "incomplete or malformed participant roster", err)
	case errors.As(err, &invalid):
		return errs.Wrap(errs.Protocol, "invalid dkg package", err)
	default:
		return errs.Wrap(errs.Resource, "dkg round failed", err)
	}
}

// classifySignerErr maps internal/signer's sentinel errors onto the same
// error taxonomy: KeyNotFound, MessageMismatch, TooFewShares,
// VerificationFailed.
func classifySignerErr(err error) error {
	switch {
	case errors.Is(err, signer.ErrKeyNotFound):
		return errs.Wrap(errs.Input, "no key package for this passphrase/curve", err)
	case errors.Is(err, signer.ErrMessageMismatch):
		return errs.Wrap(errs.Protocol, "nonce handle does not match this message/passphrase", err)
	case errors.Is(err, signer.ErrHandleConsumed):
		return errs.Wrap(errs.Protocol, "nonce handle already used", err)
	case errors.Is(err, signer.ErrExpired):
		return errs.Wrap(errs.Protocol, "nonce handle expired", err)
	default:
		return errs.Wrap(errs.Resource, "signing round failed", err)
	}
}

func classifyStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrLocked):
		return errs.Wrap(errs.State, "hsm is locked", err)
	case errors.Is(err, store.ErrNotFound):
		return errs.Wrap(errs.Input, "no key package for this passphrase/curve", err)
	default:
		return errs.Wrap(errs.Resource, "store operation failed", err)
	}
}
