// Package store implements the encrypted share store: a key-value store
// partitioned into six namespaces ({curve} x {key_packages,
// pubkey_packages}), AEAD-sealed under a key derived from the HSM,
// gated entirely on the HSM's unlocked state.
package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/vaultfrost/custody/internal/hsm"
	"github.com/vaultfrost/custody/pkg/curvetag"
)

// ErrLocked mirrors hsm.ErrLocked at the store boundary: the store
// refuses reads/writes while the HSM is locked.
var ErrLocked = hsm.ErrLocked

// ErrNotFound is returned when no value exists for a given namespace/key.
var ErrNotFound = errors.New("store: not found")

const storageKeyLabel = "storage"
const packageVersion byte = 1

// Backend is the minimal durable key-value surface a storage engine must
// provide; Store layers AEAD, namespacing, and per-passphrase locking on
// top of it.
type Backend interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Has(ctx context.Context, namespace, key string) (bool, error)
}

// Store is the encrypted, HSM-gated share store. One Store instance per
// node process.
type Store struct {
	backend Backend
	hsmP    hsm.Provider

	mu       sync.Mutex
	aeadKey  []byte
	keyMutex keyedMutex
}

func New(backend Backend, provider hsm.Provider) *Store {
	return &Store{backend: backend, hsmP: provider, keyMutex: newKeyedMutex()}
}

func (s *Store) aead() (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hsmP.Unlocked() {
		s.aeadKey = nil
		return nil, ErrLocked
	}
	if s.aeadKey == nil {
		mac, err := s.hsmP.Sign(storageKeyLabel)
		if err != nil {
			return nil, fmt.Errorf("store: deriving aead key: %w", err)
		}
		sum := sha256.Sum256(mac)
		s.aeadKey = sum[:]
	}
	block, err := aes.NewCipher(s.aeadKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// namespaceKey builds the storage key for a (curve, passphrase, kind) row.
func namespaceKey(curve curvetag.Tag, kind string) string {
	switch kind {
	case "key_packages":
		return curve.KeyNamespace()
	case "pubkey_packages":
		return curve.PubkeyNamespace()
	default:
		return string(curve) + "_" + kind
	}
}

// PutKeyPackage seals and writes a per-node key package. Serialization
// format on disk is [version:1][aead_nonce:12][ciphertext||tag] with
// associated data curve_tag || "|" || passphrase.
func (s *Store) PutKeyPackage(ctx context.Context, curve curvetag.Tag, passphrase string, plaintext []byte) error {
	return s.put(ctx, namespaceKey(curve, "key_packages"), curve, passphrase, plaintext)
}

func (s *Store) GetKeyPackage(ctx context.Context, curve curvetag.Tag, passphrase string) ([]byte, error) {
	return s.get(ctx, namespaceKey(curve, "key_packages"), curve, passphrase)
}

func (s *Store) PutPubkeyPackage(ctx context.Context, curve curvetag.Tag, passphrase string, plaintext []byte) error {
	return s.put(ctx, namespaceKey(curve, "pubkey_packages"), curve, passphrase, plaintext)
}

func (s *Store) GetPubkeyPackage(ctx context.Context, curve curvetag.Tag, passphrase string) ([]byte, error) {
	return s.get(ctx, namespaceKey(curve, "pubkey_packages"), curve, passphrase)
}

func (s *Store) HasPubkeyPackage(ctx context.Context, curve curvetag.Tag, passphrase string) (bool, error) {
	return s.backend.Has(ctx, namespaceKey(curve, "pubkey_packages"), passphrase)
}

func (s *Store) put(ctx context.Context, namespace string, curve curvetag.Tag, passphrase string, plaintext []byte) error {
	unlock := s.keyMutex.lock(passphrase)
	defer unlock()

	aead, err := s.aead()
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ad := associatedData(curve, passphrase)
	ciphertext := aead.Seal(nil, nonce, plaintext, ad)

	value := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	value = append(value, packageVersion)
	value = append(value, nonce...)
	value = append(value, ciphertext...)

	return s.backend.Put(ctx, namespace, passphrase, value)
}

func (s *Store) get(ctx context.Context, namespace string, curve curvetag.Tag, passphrase string) ([]byte, error) {
	aead, err := s.aead()
	if err != nil {
		return nil, err
	}
	raw, err := s.backend.Get(ctx, namespace, passphrase)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	if len(raw) < 1+aead.NonceSize() {
		return nil, fmt.Errorf("store: corrupt record (too short)")
	}
	version := raw[0]
	if version != packageVersion {
		return nil, fmt.Errorf("store: unsupported package version %d", version)
	}
	nonce := raw[1 : 1+aead.NonceSize()]
	ciphertext := raw[1+aead.NonceSize():]
	ad := associatedData(curve, passphrase)
	return aead.Open(nil, nonce, ciphertext, ad)
}

func associatedData(curve curvetag.Tag, passphrase string) []byte {
	return append([]byte(string(curve)+"|"), []byte(passphrase)...)
}
