package keymanager

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ats-kms/store"
)

func testMKEK(t *testing.T) []byte {
	t.Helper()
	mkek := make([]byte, 32)
	_, err := rand.Read(mkek)
	require.NoError(t, err)
	return mkek
}

func TestGenerateVAPIDPersistsAndIsRetrievable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("inst-1")
	mgr := New(s.WrappedKeys(), 2)
	mkek := testMKEK(t)

	kid, raw, err := mgr.GenerateVAPID(ctx, mkek)
	require.NoError(t, err)
	assert.NotEmpty(t, kid)
	assert.Len(t, raw, 65)

	wk, err := mgr.GetPublicKey(ctx, kid)
	require.NoError(t, err)
	assert.Equal(t, "vapid", wk.Purpose)
	assert.Equal(t, raw, wk.PublicKeyRaw)
}

func TestUnwrapPrivateKeyRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("inst-1")
	mgr := New(s.WrappedKeys(), 2)
	mkek := testMKEK(t)

	kid, raw, err := mgr.GenerateVAPID(ctx, mkek)
	require.NoError(t, err)

	priv, err := mgr.UnwrapPrivateKey(ctx, mkek, kid)
	require.NoError(t, err)
	assert.Equal(t, raw[1:33], priv.PublicKey.X.Bytes())
}

func TestUnwrapPrivateKeyFailsWithWrongMKEK(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("inst-1")
	mgr := New(s.WrappedKeys(), 2)
	mkek := testMKEK(t)

	kid, _, err := mgr.GenerateVAPID(ctx, mkek)
	require.NoError(t, err)

	wrongMKEK := testMKEK(t)
	_, err = mgr.UnwrapPrivateKey(ctx, wrongMKEK, kid)
	assert.Error(t, err)
}

func TestListKeysFiltersByPurpose(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("inst-1")
	mgr := New(s.WrappedKeys(), 2)
	mkek := testMKEK(t)

	_, _, err := mgr.GenerateVAPID(ctx, mkek)
	require.NoError(t, err)

	keys, err := mgr.ListKeys(ctx, "vapid")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	keys, err = mgr.ListKeys(ctx, "audit-user")
	require.NoError(t, err)
	assert.Len(t, keys, 0)
}

func TestRegenerateVAPIDProducesNewKid(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("inst-1")
	mgr := New(s.WrappedKeys(), 2)
	mkek := testMKEK(t)

	oldKid, _, err := mgr.GenerateVAPID(ctx, mkek)
	require.NoError(t, err)

	newKid, _, err := mgr.RegenerateVAPID(ctx, mkek, oldKid)
	require.NoError(t, err)
	assert.NotEqual(t, oldKid, newKid)

	keys, err := mgr.ListKeys(ctx, "vapid")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestGetPublicKeyNotFound(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("inst-1")
	mgr := New(s.WrappedKeys(), 2)

	_, err := mgr.GetPublicKey(ctx, "no-such-kid")
	assert.Error(t, err)
}
