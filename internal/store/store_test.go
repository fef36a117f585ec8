package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfrost/custody/internal/hsm"
	"github.com/vaultfrost/custody/internal/store"
	"github.com/vaultfrost/custody/pkg/curvetag"
)

func newTestStore(t *testing.T) (*store.Store, hsm.Provider) {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	provider := hsm.NewSoftwareProvider("test", "1234", []byte("root"), 3)
	return store.New(backend, provider), provider
}

func TestStoreRefusesWhileLocked(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	err := s.PutKeyPackage(ctx, curvetag.Ed25519, "p1", []byte("secret"))
	assert.ErrorIs(t, err, store.ErrLocked)
}

func TestStoreRoundTrip(t *testing.T) {
	s, provider := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, provider.Unlock("1234"))

	require.NoError(t, s.PutKeyPackage(ctx, curvetag.Ed25519, "p1", []byte("secret-bytes")))
	got, err := s.GetKeyPackage(ctx, curvetag.Ed25519, "p1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-bytes"), got)
}

func TestStoreNotFound(t *testing.T) {
	s, provider := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, provider.Unlock("1234"))

	_, err := s.GetKeyPackage(ctx, curvetag.Ed25519, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreOpaqueAfterLock(t *testing.T) {
	s, provider := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, provider.Unlock("1234"))
	require.NoError(t, s.PutKeyPackage(ctx, curvetag.Ed25519, "p1", []byte("secret")))

	provider.Lock()
	_, err := s.GetKeyPackage(ctx, curvetag.Ed25519, "p1")
	assert.ErrorIs(t, err, store.ErrLocked)
}
