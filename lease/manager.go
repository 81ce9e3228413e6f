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

package lease

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/kdf"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/internal/metrics"
	"github.com/sage-x-project/ats-kms/keymanager"
)

// KidResolver reports the live VAPID kid for a user, so the lease engine can
// detect rotation without importing the mastersecret package.
type KidResolver func(ctx context.Context, userID string) (string, error)

// AuditAppender commits a pending entry to the audit chain under a given
// signer; its shape mirrors audit.Chain.Append, narrowed so this package
// does not need to import store.
type AuditAppender func(ctx context.Context, pending *audit.PendingEntry, signer audit.Signer) error

// Manager owns the in-memory lease table: creation, signing, extension,
// revocation, and verification. It holds no persistent state of its own —
// every lease is lost on worker restart, matching the unlock context's
// lifetime (spec.md §5, "global mutable state").
type Manager struct {
	mu     sync.RWMutex
	leases map[string]*Record

	keys        *keymanager.Manager
	kid         KidResolver
	appendAudit AuditAppender
}

// NewManager constructs a lease Manager. keys is used to unwrap the VAPID
// private key at lease-creation time (to re-wrap it under SessionKEK); kid
// resolves the live VAPID kid for rotation detection; appendAudit commits
// audit entries for lease lifecycle events.
func NewManager(keys *keymanager.Manager, kidResolver KidResolver, appendAudit AuditAppender) *Manager {
	return &Manager{
		leases:      make(map[string]*Record),
		keys:        keys,
		kid:         kidResolver,
		appendAudit: appendAudit,
	}
}

// CreateParams is the input to CreateLease.
type CreateParams struct {
	UserID       string
	TTLHours     int
	Subs         []SubRef // push-subscription destinations this lease is scoped to
	MKEK         []byte   // unwraps the current VAPID private key
	MS           []byte   // derives this lease's SessionKEK
	UAKKeyPair   *audit.KeyPair
	UAKSigner    audit.Signer
	CodeHash     string
	ManifestHash string
	KmsVersion   int
}

// CreateLease unwraps the user's current VAPID private key under MKEK,
// re-wraps it under a fresh per-lease SessionKEK derived from MS, issues a
// LAK delegation certificate rooted at UAK, and inserts the Record into the
// in-memory table.
func (m *Manager) CreateLease(ctx context.Context, p CreateParams) (*Record, error) {
	if p.TTLHours <= 0 || p.TTLHours > maxTTLHours {
		return nil, kmserr.New(kmserr.InvalidParams, "ttlHours must be in (0, 720]")
	}

	currentKid, err := m.kid(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	priv, err := m.keys.UnwrapPrivateKey(ctx, p.MKEK, currentKid)
	if err != nil {
		return nil, err
	}

	leaseSalt, err := newLeaseSalt()
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate lease salt", err)
	}
	sessionKEK, err := kdf.DeriveSessionKEK(p.MS, leaseSalt)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to derive session kek", err)
	}

	now := time.Now().UTC()
	exp := now.Add(time.Duration(p.TTLHours) * time.Hour)
	leaseID := newLeaseID()

	leaseAAD, err := leaseKeyAAD(leaseID, currentKid)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to build lease key aad", err)
	}
	wrappedKey, iv, err := wrapLeaseKey(sessionKEK, priv.D.Bytes(), leaseAAD)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to wrap lease key", err)
	}

	lak, err := audit.GenerateKeyPair()
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate LAK", err)
	}
	cert, err := audit.IssueDelegationCert(
		p.UAKKeyPair, "LAK", string(lak.Public),
		[]string{"signJWT", "sendPush", "extendLease"},
		now, &exp, leaseID, "", p.CodeHash, p.ManifestHash, p.KmsVersion,
	)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to issue LAK delegation cert", err)
	}

	rec := &Record{
		LeaseID:           leaseID,
		UserID:            p.UserID,
		TTLHours:          p.TTLHours,
		CreatedAt:         now,
		Exp:               exp,
		Quotas:            NewQuotaState(DefaultQuotaConfig()),
		WrappedLeaseKey:   wrappedKey,
		WrappedLeaseKeyIV: iv,
		LeaseSalt:         leaseSalt,
		Kid:               currentKid,
		Subs:              p.Subs,
		LAKDelegationCert: cert,
		sessionKEK:        sessionKEK,
		lak:               lak,
		replay:            newNonceWindow(),
	}

	m.mu.Lock()
	m.leases[rec.LeaseID] = rec
	m.mu.Unlock()
	metrics.LeasesActive.Inc()

	if m.appendAudit != nil && p.UAKSigner != nil {
		_ = m.appendAudit(ctx, &audit.PendingEntry{Op: "createLease", UserID: p.UserID, Kid: currentKid, LeaseID: rec.LeaseID}, p.UAKSigner)
	}
	return rec, nil
}

// SignJWT validates payload, enforces the lease's replay guard and quotas,
// unwraps the lease key under its cached SessionKEK, and returns a signed
// ES256 VAPID JWT. It never needs the Master Secret again.
func (m *Manager) SignJWT(ctx context.Context, leaseID string, payload JWTPayload, lak audit.Signer) (jwtStr string, exp int64, err error) {
	rec, err := m.get(leaseID)
	if err != nil {
		return "", 0, err
	}

	now := time.Now().UTC()
	if err := m.checkValid(ctx, rec, now); err != nil {
		return "", 0, err
	}
	if err := payload.validate(now); err != nil {
		return "", 0, err
	}
	if rec.replay.seenOrRecord(payload.Jti, now) {
		metrics.JTIValidations.WithLabelValues("replay").Inc()
		metrics.JTIReplaysDetected.Inc()
		return "", 0, kmserr.New(kmserr.ReplayDetected, "jti already used within the replay window")
	}
	metrics.JTIValidations.WithLabelValues("fresh").Inc()
	if err := rec.Quotas.Consume(now, payload.Eid); err != nil {
		return "", 0, kmserr.New(kmserr.QuotaExceeded, "lease quota exceeded")
	}

	leaseAAD, err := leaseKeyAAD(rec.LeaseID, rec.Kid)
	if err != nil {
		return "", 0, kmserr.Wrap(kmserr.CryptoError, "failed to build lease key aad", err)
	}
	priv, err := unwrapToECDSA(rec.sessionKEK, rec.WrappedLeaseKey, rec.WrappedLeaseKeyIV, leaseAAD)
	if err != nil {
		return "", 0, kmserr.New(kmserr.LeaseInvalid, "lease key unwrap failed")
	}

	claims := jwt.MapClaims{
		"aud": payload.Aud,
		"sub": payload.Sub,
		"exp": payload.Exp,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = rec.Kid
	signed, err := token.SignedString(priv)
	if err != nil {
		return "", 0, kmserr.Wrap(kmserr.CryptoError, "failed to sign VAPID JWT", err)
	}

	if m.appendAudit != nil && lak != nil {
		_ = m.appendAudit(ctx, &audit.PendingEntry{Op: "signJWT", UserID: rec.UserID, Kid: rec.Kid, LeaseID: rec.LeaseID}, lak)
	}
	return signed, payload.Exp, nil
}

// ExtendLease sets exp to now + additionalHours, capped at 720h from
// createdAt, and updates the delegation cert's notAfter to match.
func (m *Manager) ExtendLease(ctx context.Context, leaseID string, additionalHours int, lak audit.Signer) (*Record, error) {
	rec, err := m.get(leaseID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := m.checkValid(ctx, rec, now); err != nil {
		return nil, err
	}

	m.mu.Lock()
	hardCap := rec.CreatedAt.Add(maxTTLHours * time.Hour)
	newExp := now.Add(time.Duration(additionalHours) * time.Hour)
	if newExp.After(hardCap) {
		newExp = hardCap
	}
	rec.Exp = newExp
	notAfter := newExp.Unix()
	rec.LAKDelegationCert.NotAfter = &notAfter
	m.mu.Unlock()

	if m.appendAudit != nil && lak != nil {
		_ = m.appendAudit(ctx, &audit.PendingEntry{Op: "extendLease", UserID: rec.UserID, Kid: rec.Kid, LeaseID: rec.LeaseID}, lak)
	}
	return rec, nil
}

// RevokeLease removes a lease from the in-memory table.
func (m *Manager) RevokeLease(ctx context.Context, leaseID string, uak audit.Signer) error {
	rec, err := m.get(leaseID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	rec.Revoked = true
	delete(m.leases, leaseID)
	m.mu.Unlock()
	metrics.LeasesActive.Dec()
	metrics.LeasesRevoked.Inc()

	if m.appendAudit != nil && uak != nil {
		_ = m.appendAudit(ctx, &audit.PendingEntry{Op: "revokeLease", UserID: rec.UserID, Kid: rec.Kid, LeaseID: rec.LeaseID}, uak)
	}
	return nil
}

// VerifyLease reports whether leaseID is still valid: present, unexpired,
// and bound to the user's current VAPID kid.
func (m *Manager) VerifyLease(ctx context.Context, leaseID string) (*VerificationResult, error) {
	m.mu.RLock()
	rec, ok := m.leases[leaseID]
	m.mu.RUnlock()
	if !ok {
		return &VerificationResult{LeaseID: leaseID, Valid: false, Reason: "not-found"}, nil
	}

	now := time.Now().UTC()
	// A revoked record still in the table was invalidated by a VAPID
	// rotation (RevokeLease deletes its record), so it reports wrong-key.
	if rec.Revoked {
		return &VerificationResult{LeaseID: leaseID, Valid: false, Reason: "wrong-key", Kid: rec.Kid}, nil
	}
	if now.After(rec.Exp) {
		return &VerificationResult{LeaseID: leaseID, Valid: false, Reason: "expired", Kid: rec.Kid}, nil
	}
	currentKid, err := m.kid(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if currentKid != rec.Kid {
		return &VerificationResult{LeaseID: leaseID, Valid: false, Reason: "wrong-key", Kid: rec.Kid}, nil
	}
	return &VerificationResult{LeaseID: leaseID, Valid: true, Kid: rec.Kid}, nil
}

// InvalidateByKid marks every lease currently bound to kid as revoked; it is
// called by the key-rotation orchestrator immediately after regenerateVAPID
// persists a new key (spec.md §4.4, "invalidate all leases whose kid equals
// the prior key's kid").
func (m *Manager) InvalidateByKid(kid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.leases {
		if rec.Kid == kid && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n
}

// LAKSigner wraps the lease's delegated keypair as a Signer for
// signJWT/extendLease, so callers never need to manage the LAK private
// key themselves once a lease has been created.
func (m *Manager) LAKSigner(leaseID string) (audit.Signer, error) {
	rec, err := m.get(leaseID)
	if err != nil {
		return nil, err
	}
	return audit.NewLAKSigner(string(rec.lak.Public), rec.lak, rec.LAKDelegationCert), nil
}

func (m *Manager) get(leaseID string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.leases[leaseID]
	m.mu.RUnlock()
	if !ok {
		return nil, kmserr.New(kmserr.LeaseInvalid, "no such lease")
	}
	return rec, nil
}

func (m *Manager) checkValid(ctx context.Context, rec *Record, now time.Time) error {
	if rec.Revoked {
		return kmserr.New(kmserr.LeaseInvalid, "lease is revoked")
	}
	if now.After(rec.Exp) {
		return kmserr.New(kmserr.LeaseInvalid, "lease has expired")
	}
	currentKid, err := m.kid(ctx, rec.UserID)
	if err != nil {
		return err
	}
	if currentKid != rec.Kid {
		return kmserr.New(kmserr.KeyRotated, "VAPID key has been rotated")
	}
	return nil
}
