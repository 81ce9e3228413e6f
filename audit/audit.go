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

// Package audit implements the tamper-evident, delegated audit chain: a
// sequential hash chain over AuditEntry records, signed by one of three key
// classes (UAK/LAK/KIAK) and verified by recomputing every link.
package audit

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/ats-kms/internal/aad"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/store"
)

// Signer is the capability the Audit Chain needs from whichever key class
// (UAK/LAK/KIAK) is authoring an entry. The chain never holds key material
// itself — it is handed a Signer for the duration of one Append call.
type Signer interface {
	Kind() string // "UAK" | "LAK" | "KIAK"
	ID() string   // signerId: "uak:"+userId for UAK, the LAK public key, or the instance id for KIAK
	Cert() []byte // nil for UAK; a delegation cert for LAK/KIAK
	Sign(data []byte) ([]byte, error)
}

// PendingEntry is the caller-supplied portion of an AuditEntry; the chain
// fills in SeqNum, RequestID, Timestamp, PreviousHash, ChainHash, Signer
// fields, and the signature.
type PendingEntry struct {
	Op         string
	Kid        string
	UserID     string
	Origin     string
	LeaseID    string
	UnlockTime *time.Time
	LockTime   *time.Time
	DurationMs int64
	Details    map[string]any
}

// Chain writes to and verifies a store.AuditStore. Writers must serialize
// calls to Append externally to satisfy the
// strictly-monotonic, contiguous seqNum ordering guarantee.
type Chain struct {
	store store.AuditStore
}

// New wraps a store.AuditStore as an audit Chain.
func New(s store.AuditStore) *Chain {
	return &Chain{store: s}
}

// Append commits the next entry in the chain, computing chainHash over the
// canonical serialization of the entry excluding sig/sigNew/chainHash,
// concatenated with the previous hash, then signing that canonicalization.
func (c *Chain) Append(ctx context.Context, pending *PendingEntry, signer Signer) (*store.AuditEntry, error) {
	counters, err := c.store.GetCounters(ctx)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to read audit counters", err)
	}

	entry := &store.AuditEntry{
		KmsVersion:   2,
		SeqNum:       counters.SeqNum + 1,
		Timestamp:    time.Now().UTC(),
		Op:           pending.Op,
		Kid:          pending.Kid,
		RequestID:    uuid.NewString(),
		UserID:       pending.UserID,
		Origin:       pending.Origin,
		LeaseID:      pending.LeaseID,
		UnlockTime:   pending.UnlockTime,
		LockTime:     pending.LockTime,
		DurationMs:   pending.DurationMs,
		Details:      pending.Details,
		PreviousHash: counters.PreviousHash,
		Signer:       signer.Kind(),
		SignerID:     signer.ID(),
		Cert:         signer.Cert(),
	}

	canonical, err := canonicalizeEntry(entry)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to canonicalize audit entry", err)
	}

	h := sha256.New()
	h.Write(canonical)
	h.Write(entry.PreviousHash)
	entry.ChainHash = h.Sum(nil)

	sig, err := signer.Sign(canonical)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to sign audit entry", err)
	}
	entry.Sig = sig

	next := &store.Counters{
		SeqNum:       entry.SeqNum,
		PreviousHash: entry.ChainHash,
		MSVersion:    counters.MSVersion,
		InstanceID:   counters.InstanceID,
	}
	if err := c.store.AppendEntry(ctx, entry, next); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to commit audit entry", err)
	}
	return entry, nil
}

// canonicalizeEntry builds the lexicographic-JSON canonicalization an
// entry's sig/chainHash are computed over, excluding sig, sigNew, and
// chainHash themselves (spec.md §9 open question 4's binding resolution).
// Every other persisted field is bound, including Details: a tampered
// detail is exactly as detectable as a tampered op or kid.
func canonicalizeEntry(e *store.AuditEntry) ([]byte, error) {
	b := aad.NewBuilder().
		Int("kmsVersion", int64(e.KmsVersion)).
		Int("seqNum", e.SeqNum).
		Str("timestamp", e.Timestamp.Format(time.RFC3339Nano)).
		Str("op", e.Op).
		Str("kid", e.Kid).
		Str("requestId", e.RequestID).
		Str("userId", e.UserID).
		Str("origin", e.Origin).
		Str("leaseId", e.LeaseID).
		Str("unlockTime", formatTimePtr(e.UnlockTime)).
		Str("lockTime", formatTimePtr(e.LockTime)).
		Int("durationMs", e.DurationMs).
		Any("details", e.Details).
		Bytes("previousHash", e.PreviousHash).
		Str("signer", e.Signer).
		Str("signerId", e.SignerID).
		Bytes("cert", e.Cert)
	return b.Build()
}

// formatTimePtr renders a nil *time.Time as "" so its absence is still a
// stable, canonicalized value rather than an omitted field.
func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// VerifyResult reports the outcome of walking the chain.
type VerifyResult struct {
	OK          bool
	FirstBadSeq int64 // meaningful only when OK is false
}

// CertValidator checks a delegation cert covers op at t and that its
// delegatePub matches signerID; it is supplied by the caller because
// validating scope/window/delegatePub requires deserializing the cert,
// which is cert-kind-specific (LAK vs KIAK) and outside this package's
// concern.
type CertValidator func(cert []byte, signerKind, signerID, op string, t time.Time) bool

// SigVerifier verifies a signature over canonical bytes for a given signer
// kind/id.
type SigVerifier func(signerKind, signerID string, canonical, sig []byte) bool

// Verify walks every entry from seqNum 0, recomputing chainHash, confirming
// the link to the prior entry, validating any cert, and verifying sig (or
// sigNew during a dual-signature rotation window — either is accepted).
func Verify(ctx context.Context, s store.AuditStore, validateCert CertValidator, verifySig SigVerifier) (*VerifyResult, error) {
	counters, err := s.GetCounters(ctx)
	if err != nil {
		return nil, err
	}
	var previousHash []byte
	for seq := int64(0); seq <= counters.SeqNum; seq++ {
		entry, err := s.GetEntry(ctx, seq)
		if err != nil {
			return &VerifyResult{OK: false, FirstBadSeq: seq}, nil
		}
		if entry.SeqNum != seq {
			return &VerifyResult{OK: false, FirstBadSeq: seq}, nil
		}
		canonical, err := canonicalizeEntry(entry)
		if err != nil {
			return &VerifyResult{OK: false, FirstBadSeq: seq}, nil
		}
		h := sha256.New()
		h.Write(canonical)
		h.Write(previousHash)
		wantHash := h.Sum(nil)
		if !bytesEqual(wantHash, entry.ChainHash) {
			return &VerifyResult{OK: false, FirstBadSeq: seq}, nil
		}

		if entry.Signer != "UAK" {
			if validateCert == nil || !validateCert(entry.Cert, entry.Signer, entry.SignerID, entry.Op, entry.Timestamp) {
				return &VerifyResult{OK: false, FirstBadSeq: seq}, nil
			}
		}

		sigOK := verifySig != nil && verifySig(entry.Signer, entry.SignerID, canonical, entry.Sig)
		sigNewOK := len(entry.SigNew) > 0 && verifySig != nil && verifySig(entry.Signer, entry.SignerID, canonical, entry.SigNew)
		if !sigOK && !sigNewOK {
			return &VerifyResult{OK: false, FirstBadSeq: seq}, nil
		}

		previousHash = entry.ChainHash
	}
	return &VerifyResult{OK: true}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
