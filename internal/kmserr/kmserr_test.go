package kmserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorString(t *testing.T) {
	err := New(NotUnlocked, "unlock context expired")
	assert.Equal(t, "NOT_UNLOCKED: unlock context expired", err.Error())
}

func TestWrapIncludesCauseInErrorString(t *testing.T) {
	cause := errors.New("gcm open failed")
	err := Wrap(CryptoError, "unwrap failed", cause)
	assert.Contains(t, err.Error(), "gcm open failed")
	assert.ErrorIs(t, err, cause)
}

func TestWithDetailAccumulates(t *testing.T) {
	err := New(QuotaExceeded, "hourly cap reached").
		WithDetail("leaseId", "l-1").
		WithDetail("window", "hourly")
	require.Len(t, err.Details, 2)
	assert.Equal(t, "l-1", err.Details["leaseId"])
	assert.Equal(t, "hourly", err.Details["window"])
}

func TestAsFindsDirectKMSError(t *testing.T) {
	err := New(KeyNotFound, "no such kid")
	ke, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KeyNotFound, ke.Code)
}

func TestAsFindsWrappedKMSError(t *testing.T) {
	inner := New(ReplayDetected, "jti already seen")
	wrapped := fmt.Errorf("dispatch failed: %w", inner)
	ke, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReplayDetected, ke.Code)
}

func TestAsFalseForUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	assert.False(t, ok)
}
