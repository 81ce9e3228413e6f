package kdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPBKDF2CalibrateClampsToBounds(t *testing.T) {
	params := DefaultCalibrationParams()
	iterations, err := PBKDF2Calibrate(params)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, iterations, params.MinIterations)
	assert.LessOrEqual(t, iterations, params.MaxIterations)
}

func TestPBKDF2DeriveKEKIsDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a := PBKDF2DeriveKEK("correct horse battery staple", salt, 1000)
	b := PBKDF2DeriveKEK("correct horse battery staple", salt, 1000)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestPBKDF2DeriveKEKDiffersByIterationCount(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a := PBKDF2DeriveKEK("passphrase", salt, 1000)
	b := PBKDF2DeriveKEK("passphrase", salt, 2000)
	assert.NotEqual(t, a, b)
}

func TestNeedsRecalibrationOnPlatformMismatch(t *testing.T) {
	assert.True(t, NeedsRecalibration(time.Now(), "host-a", "host-b", 30*24*time.Hour))
}

func TestNeedsRecalibrationOnStaleness(t *testing.T) {
	calibratedAt := time.Now().Add(-31 * 24 * time.Hour)
	assert.True(t, NeedsRecalibration(calibratedAt, "host-a", "host-a", 30*24*time.Hour))
}

func TestNeedsRecalibrationFalseWhenFreshAndMatching(t *testing.T) {
	assert.False(t, NeedsRecalibration(time.Now(), "host-a", "host-a", 30*24*time.Hour))
}

func TestDeriveMKEKDeterministicAndSized(t *testing.T) {
	ms := make([]byte, 32)
	for i := range ms {
		ms[i] = byte(i)
	}
	a, err := DeriveMKEK(ms)
	require.NoError(t, err)
	b, err := DeriveMKEK(ms)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestDeriveSessionKEKVariesByLeaseSalt(t *testing.T) {
	ms := make([]byte, 32)
	salt1 := []byte("lease-1-salt")
	salt2 := []byte("lease-2-salt")
	k1, err := DeriveSessionKEK(ms, salt1)
	require.NoError(t, err)
	k2, err := DeriveSessionKEK(ms, salt2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDerivePRFWrappingKeyVariesByAppSalt(t *testing.T) {
	prf := make([]byte, 32)
	hkdfSalt := []byte("hkdf-salt")
	k1, err := DerivePRFWrappingKey(prf, hkdfSalt, []byte("app-a"))
	require.NoError(t, err)
	k2, err := DerivePRFWrappingKey(prf, hkdfSalt, []byte("app-b"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveMKEKAndSessionKEKDiffer(t *testing.T) {
	ms := make([]byte, 32)
	mkek, err := DeriveMKEK(ms)
	require.NoError(t, err)
	kek, err := DeriveSessionKEK(ms, []byte("salt"))
	require.NoError(t, err)
	assert.NotEqual(t, mkek, kek)
}
