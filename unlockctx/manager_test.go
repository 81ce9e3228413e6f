package unlockctx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ats-kms/audit"
)

func testUnlockFunc(calls *int32) UnlockFunc {
	return func(ctx context.Context, userID string) ([]byte, []byte, audit.Signer, *audit.KeyPair, error) {
		atomic.AddInt32(calls, 1)
		return []byte("ms-secret"), []byte("mkek-secret"), audit.NewUAKSigner("uak-1", nil), nil, nil
	}
}

func TestGetOrUnlockInstallsContextOnFirstCall(t *testing.T) {
	m := NewManager()
	defer m.Close()
	var calls int32

	c, err := m.GetOrUnlock(context.Background(), "u@x", testUnlockFunc(&calls))
	require.NoError(t, err)
	assert.Equal(t, "u@x", c.UserID())
	assert.Equal(t, []byte("ms-secret"), c.MS())
	assert.Equal(t, int32(1), calls)
}

func TestGetOrUnlockReusesLiveContext(t *testing.T) {
	m := NewManager()
	defer m.Close()
	var calls int32

	_, err := m.GetOrUnlock(context.Background(), "u@x", testUnlockFunc(&calls))
	require.NoError(t, err)
	_, err = m.GetOrUnlock(context.Background(), "u@x", testUnlockFunc(&calls))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
}

func TestGetOrUnlockDeduplicatesConcurrentCalls(t *testing.T) {
	m := NewManager()
	defer m.Close()
	var calls int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetOrUnlock(context.Background(), "u@x", testUnlockFunc(&calls))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls)
}

func TestGetReturnsErrorWhenNotUnlocked(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, err := m.Get("nobody@x")
	assert.Error(t, err)
}

func TestDestroyZeroizesAndEvicts(t *testing.T) {
	m := NewManager()
	defer m.Close()
	var calls int32

	c, err := m.GetOrUnlock(context.Background(), "u@x", testUnlockFunc(&calls))
	require.NoError(t, err)

	m.Destroy("u@x")

	assert.Equal(t, make([]byte, len("ms-secret")), c.MS())
	_, err = m.Get("u@x")
	assert.Error(t, err)
}

func TestTouchExtendsExpiryAndFailsWhenNotUnlocked(t *testing.T) {
	m := NewManager()
	defer m.Close()
	var calls int32

	_, err := m.GetOrUnlock(context.Background(), "u@x", testUnlockFunc(&calls))
	require.NoError(t, err)
	assert.NoError(t, m.Touch("u@x"))

	assert.Error(t, m.Touch("nobody@x"))
}

func TestContextExtendNeverExceedsHardCap(t *testing.T) {
	created := time.Now().UTC()
	c := &Context{createdAt: created}
	c.extend(created.Add(HardCap - time.Minute))
	assert.True(t, !c.expiresAt.After(created.Add(HardCap)))
}
