package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("inst-1")

	rec := &EnrollmentRecord{EnrollmentID: "e-1", UserID: "u@x", Method: "passphrase"}
	require.NoError(t, s.Enrollments().Put(ctx, rec))

	got, err := s.Enrollments().Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "u@x", got.UserID)

	require.NoError(t, s.Enrollments().Delete(ctx, "e-1"))
	_, err = s.Enrollments().Get(ctx, "e-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnrollmentStoreListByMethod(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("inst-1")

	require.NoError(t, s.Enrollments().Put(ctx, &EnrollmentRecord{EnrollmentID: "e-1", UserID: "u@x", Method: "passphrase"}))
	require.NoError(t, s.Enrollments().Put(ctx, &EnrollmentRecord{EnrollmentID: "e-2", UserID: "u@x", Method: "passkey-prf"}))
	require.NoError(t, s.Enrollments().Put(ctx, &EnrollmentRecord{EnrollmentID: "e-3", UserID: "other@x", Method: "passphrase"}))

	recs, err := s.Enrollments().ListByMethod(ctx, "u@x", "passphrase")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "e-1", recs[0].EnrollmentID)

	all, err := s.Enrollments().ListByUser(ctx, "u@x")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWrappedKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("inst-1")

	key := &WrappedKey{Kid: "kid-1", Purpose: "vapid", Alg: "ES256"}
	require.NoError(t, s.WrappedKeys().Put(ctx, key))

	got, err := s.WrappedKeys().Get(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "vapid", got.Purpose)

	list, err := s.WrappedKeys().ListByPurpose(ctx, "vapid")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.WrappedKeys().Delete(ctx, "kid-1"))
	_, err = s.WrappedKeys().Get(ctx, "kid-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditStoreSeqNumMustBeContiguous(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("inst-1")

	counters, err := s.Audit().GetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), counters.SeqNum)

	entry := &AuditEntry{SeqNum: 0, Op: "bootstrap"}
	next := &Counters{SeqNum: 0, InstanceID: "inst-1"}
	require.NoError(t, s.Audit().AppendEntry(ctx, entry, next))

	// Out-of-order seqNum is rejected.
	badEntry := &AuditEntry{SeqNum: 5, Op: "x"}
	err = s.Audit().AppendEntry(ctx, badEntry, &Counters{SeqNum: 5})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAuditStoreListSinceAndGetEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("inst-1")

	for i := int64(0); i < 3; i++ {
		entry := &AuditEntry{SeqNum: i, Op: "op"}
		require.NoError(t, s.Audit().AppendEntry(ctx, entry, &Counters{SeqNum: i, InstanceID: "inst-1"}))
	}

	entries, err := s.Audit().ListSince(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	e, err := s.Audit().GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.SeqNum)

	_, err = s.Audit().GetEntry(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetAllClearsEveryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("inst-1")

	require.NoError(t, s.Enrollments().Put(ctx, &EnrollmentRecord{EnrollmentID: "e-1", UserID: "u@x"}))
	require.NoError(t, s.WrappedKeys().Put(ctx, &WrappedKey{Kid: "kid-1"}))
	require.NoError(t, s.Audit().AppendEntry(ctx, &AuditEntry{SeqNum: 0}, &Counters{SeqNum: 0, InstanceID: "inst-1"}))

	resettable, ok := s.(Resettable)
	require.True(t, ok)
	require.NoError(t, resettable.ResetAll(ctx, "inst-2"))

	_, err := s.Enrollments().Get(ctx, "e-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.WrappedKeys().Get(ctx, "kid-1")
	assert.ErrorIs(t, err, ErrNotFound)
	counters, err := s.Audit().GetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), counters.SeqNum)
	assert.Equal(t, "inst-2", counters.InstanceID)
}
