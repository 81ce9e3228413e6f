package mastersecret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ats-kms/store"
)

type fakeGate struct {
	key []byte
	err error
}

func (g *fakeGate) Unwrap(pepperWrapped []byte) ([]byte, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.key, nil
}

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s := store.NewMemoryStore("inst-1")
	return New(s, &fakeGate{key: make([]byte, 32)}, "inst-1"), s
}

func TestSetupPassphraseThenUnlock(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	unlocked, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)
	assert.Len(t, unlocked.MS, msLen)

	got, err := mgr.Unlock(ctx, "u@x", "passphrase", UnlockSecret{Passphrase: "correct-horse-battery-staple"})
	require.NoError(t, err)
	assert.Equal(t, unlocked.MS, got.MS)
}

func TestSetupPassphraseRejectsShortPassphrase(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.SetupPassphrase(ctx, "u@x", "short")
	assert.Error(t, err)
}

func TestSetupPassphraseRejectsSecondSetup(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)

	_, err = mgr.SetupPassphrase(ctx, "u@x", "another-long-passphrase")
	assert.Error(t, err)
}

func TestUnlockFailsWithWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)

	_, err = mgr.Unlock(ctx, "u@x", "passphrase", UnlockSecret{Passphrase: "wrong-passphrase-entirely"})
	assert.Error(t, err)
}

func TestUnlockFailsForUnsetUser(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.Unlock(ctx, "nobody@x", "passphrase", UnlockSecret{Passphrase: "whatever-long-enough"})
	assert.Error(t, err)
}

func TestAddEnrollmentPreservesMSAndDoesNotBumpVersion(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	unlocked, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)

	gateCap := &PasskeyGateCapability{PepperWrapped: []byte("pepper"), Gate: mgr.gate}
	rec, err := mgr.AddEnrollment(ctx, "u@x", unlocked.MS, gateCap, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MSVersion)

	viaGate, err := mgr.Unlock(ctx, "u@x", "passkey-gate", UnlockSecret{})
	require.NoError(t, err)
	assert.Equal(t, unlocked.MS, viaGate.MS)
}

func TestRemoveEnrollmentRefusesLastOne(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	unlocked, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)

	err = mgr.RemoveEnrollment(ctx, "u@x", unlocked.Enrollment.EnrollmentID)
	assert.Error(t, err)
}

func TestRemoveEnrollmentSucceedsWithTwo(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	unlocked, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)

	gateCap := &PasskeyGateCapability{PepperWrapped: []byte("pepper"), Gate: mgr.gate}
	_, err = mgr.AddEnrollment(ctx, "u@x", unlocked.MS, gateCap, "cred-1")
	require.NoError(t, err)

	err = mgr.RemoveEnrollment(ctx, "u@x", unlocked.Enrollment.EnrollmentID)
	assert.NoError(t, err)
}

func TestResetKMSClearsEverything(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	_, err := mgr.SetupPassphrase(ctx, "u@x", "correct-horse-battery-staple")
	require.NoError(t, err)

	err = mgr.ResetKMS(ctx)
	require.NoError(t, err)

	recs, err := s.Enrollments().ListByUser(ctx, "u@x")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
