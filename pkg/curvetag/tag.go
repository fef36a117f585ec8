// Package curvetag defines the three-value ciphersuite tag that threads
// through HTTP routing, storage namespace selection, and seed domain
// separation.
package curvetag

import "fmt"

// Tag identifies one of the three supported ciphersuites.
type Tag string

const (
	SchnorrSecp256k1 Tag = "schnorr-secp256k1"
	ECDSASecp256k1   Tag = "ecdsa-secp256k1"
	Ed25519          Tag = "ed25519"
)

// All enumerates every recognized tag, in a stable order used wherever a
// deployment needs to iterate over every supported curve (e.g. DKG replay
// across all known (curve, passphrase) pairs during disaster recovery).
var All = []Tag{SchnorrSecp256k1, ECDSASecp256k1, Ed25519}

// Parse validates a path segment or config value against the recognized
// tags, returning ErrUnknownCurve (an Input-class error) otherwise.
func Parse(s string) (Tag, error) {
	for _, t := range All {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("curvetag: unknown curve tag %q", s)
}

func (t Tag) String() string { return string(t) }

// Valid reports whether t is one of the three recognized tags.
func (t Tag) Valid() bool {
	for _, v := range All {
		if t == v {
			return true
		}
	}
	return false
}

// KeyNamespace returns the share-store column family name for key packages
// under this curve, e.g. "schnorr_keys".
func (t Tag) KeyNamespace() string {
	return t.shortName() + "_keys"
}

// PubkeyNamespace returns the share-store column family name for cached
// public key packages under this curve, e.g. "schnorr_pubkeys".
func (t Tag) PubkeyNamespace() string {
	return t.shortName() + "_pubkeys"
}

func (t Tag) shortName() string {
	switch t {
	case SchnorrSecp256k1:
		return "schnorr"
	case ECDSASecp256k1:
		return "ecdsa"
	case Ed25519:
		return "ed25519"
	default:
		return string(t)
	}
}

// DomainPrefix returns the string folded into seed derivation and AEAD
// associated data to separate this curve's secrets from the others.
func (t Tag) DomainPrefix() string {
	return string(t)
}
