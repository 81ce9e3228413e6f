// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store defines the four persistent object stores the KMS core
// relies on (enrollments, wrapped keys, audit entries, counters) as a
// storage-backend-agnostic interface, with an in-memory implementation as
// the default backend. A durable backend lives in store/postgres behind the
// same interface.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadyExists = errors.New("store: record already exists")
)

// EnrollmentRecord persists one authentication method's path to the Master
// Secret. The fields commented with a method are populated according to
// Method; the other fields are common to every variant.
type EnrollmentRecord struct {
	EnrollmentID   string
	Method         string // "passphrase" | "passkey-prf" | "passkey-gate"
	UserID         string
	EncryptedMS    []byte
	MSIV           []byte
	MSAAD          []byte
	MSVersion      int
	AlgVersion     int
	KCV            []byte // passphrase only
	KDFSalt        []byte // passphrase only
	KDFIterations  int    // passphrase only
	PlatformHash   string // passphrase only
	LastCalibrated time.Time
	CredentialID   string // passkey variants
	RPID           string // passkey variants
	AppSalt        []byte // passkey-prf
	HKDFSalt       []byte // passkey-prf
	PepperWrapped  []byte // passkey-gate
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WrappedKey is an application key wrapped under the MKEK, addressed by its
// kid.
type WrappedKey struct {
	Kid           string
	KmsVersion    int
	WrappedKey    []byte
	IV            []byte
	AAD           []byte
	PublicKeyRaw  []byte
	Alg           string // "ES256" | "Ed25519"
	Purpose       string // "vapid" | "audit-user" | "audit-lease" | "audit-instance"
	KeyType       string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
	Subscription  *PushSubscription
}

// PushSubscription is a browser Web Push subscription bound 1:1 to a VAPID
// WrappedKey.
type PushSubscription struct {
	Endpoint       string
	ExpirationTime *int64
	P256dh         string
	Auth           string
	Eid            string
	CreatedAt      time.Time
}

// AuditEntry is one link in the tamper-evident hash chain.
type AuditEntry struct {
	KmsVersion    int
	SeqNum        int64
	Timestamp     time.Time
	Op            string
	Kid           string
	RequestID     string
	UserID        string
	Origin        string
	LeaseID       string
	UnlockTime    *time.Time
	LockTime      *time.Time
	DurationMs    int64
	Details       map[string]any
	PreviousHash  []byte
	ChainHash     []byte
	Signer        string // "UAK" | "LAK" | "KIAK"
	SignerID      string
	Cert          []byte // serialized AuditDelegationCert, nil for UAK
	Sig           []byte
	SigNew        []byte
}

// Counters is the single-row record tracking audit-chain head state.
type Counters struct {
	SeqNum       int64
	PreviousHash []byte
	MSVersion    int
	InstanceID   string
}

// EnrollmentStore manages EnrollmentRecord objects, keyed by EnrollmentID
// and indexed by Method.
type EnrollmentStore interface {
	Put(ctx context.Context, rec *EnrollmentRecord) error
	Get(ctx context.Context, enrollmentID string) (*EnrollmentRecord, error)
	Delete(ctx context.Context, enrollmentID string) error
	ListByUser(ctx context.Context, userID string) ([]*EnrollmentRecord, error)
	ListByMethod(ctx context.Context, userID, method string) ([]*EnrollmentRecord, error)
}

// WrappedKeyStore manages WrappedKey objects, keyed by Kid and indexed by
// Purpose.
type WrappedKeyStore interface {
	Put(ctx context.Context, key *WrappedKey) error
	Get(ctx context.Context, kid string) (*WrappedKey, error)
	Delete(ctx context.Context, kid string) error
	ListByPurpose(ctx context.Context, purpose string) ([]*WrappedKey, error)
}

// AuditStore manages the sequential AuditEntry chain plus its head
// Counters, keyed by SeqNum.
type AuditStore interface {
	GetCounters(ctx context.Context) (*Counters, error)
	// AppendEntry commits entry and advances counters in one logical
	// transaction; callers must hold whatever external lock serializes the
	// audit-chain critical section (§5 ordering guarantee).
	AppendEntry(ctx context.Context, entry *AuditEntry, nextCounters *Counters) error
	GetEntry(ctx context.Context, seqNum int64) (*AuditEntry, error)
	ListSince(ctx context.Context, sinceSeq int64, limit int) ([]*AuditEntry, error)
	Reset(ctx context.Context, instanceID string) error
}

// Store aggregates the four object stores behind one handle.
type Store interface {
	Enrollments() EnrollmentStore
	WrappedKeys() WrappedKeyStore
	Audit() AuditStore
	Close() error
}

// Resettable is implemented by backends that can destroy every object
// store atomically, for resetKMS.
type Resettable interface {
	ResetAll(ctx context.Context, instanceID string) error
}
