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

// Package lease implements the in-memory Lease Engine: SessionKEK-wrapped
// VAPID private keys scoped to a time-bounded lease, credential-free JWT
// issuance (RFC 8292 ES256), token-bucket and sliding-window quota
// enforcement, and jti replay detection.
package lease

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/aad"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
)

const (
	maxTTLHours      = 720
	replayWindow     = 5 * time.Minute
	maxPayloadExpiry = 24 * time.Hour
	leaseSaltLen     = 32
)

var (
	errQuotaExceeded = errors.New("lease: quota exceeded")
)

// State is a lease's position in its state machine. All states other than
// Active are terminal.
type State string

const (
	StateActive   State = "active"
	StateExpired  State = "expired"
	StateRevoked  State = "revoked"
	StateOrphaned State = "orphaned" // kid mismatch after key rotation
)

// SubRef is one push-subscription destination declared at lease-creation
// time (spec.md:114, "createLease({userId, subs[], ttlHours})"); eid feeds
// the per-eid quota dimension when a signJWT payload names it.
type SubRef struct {
	Aud string
	Eid string
}

// Record is the in-memory representation of a lease. It is never persisted:
// a worker restart drops every lease, by design (spec.md §5, "global mutable
// state").
type Record struct {
	LeaseID           string
	UserID            string
	TTLHours          int
	CreatedAt         time.Time
	Exp               time.Time
	Quotas            *QuotaState
	WrappedLeaseKey   []byte
	WrappedLeaseKeyIV []byte
	LeaseSalt         []byte
	Kid               string
	Subs              []SubRef
	LAKDelegationCert *audit.DelegationCert
	Revoked           bool

	// sessionKEK is held only in memory for the lease's lifetime so signJWT
	// never needs the Master Secret again — this is what makes the lease
	// "credential-free" after creation.
	sessionKEK []byte
	// lak is the delegated keypair matching LAKDelegationCert.DelegatePub,
	// kept in memory so signJWT/extendLease can sign without involving UAK.
	lak    *audit.KeyPair
	replay *nonceWindow
}

// VerificationResult is the response shape for verifyLease.
type VerificationResult struct {
	LeaseID string
	Valid   bool
	Reason  string // "expired" | "wrong-key" | "not-found", empty if Valid
	Kid     string
}

// nonceWindow is a per-lease jti replay guard: a 5-minute sliding window of
// seen jti values, grounded on the same seen-before-TTL pattern as a
// keyid/nonce replay cache.
type nonceWindow struct {
	seen map[string]time.Time
}

func newNonceWindow() *nonceWindow {
	return &nonceWindow{seen: make(map[string]time.Time)}
}

// seenOrRecord reports whether jti was already seen within the replay
// window; if not, it records jti at now and returns false.
func (n *nonceWindow) seenOrRecord(jti string, now time.Time) bool {
	cutoff := now.Add(-replayWindow)
	for k, t := range n.seen {
		if t.Before(cutoff) {
			delete(n.seen, k)
		}
	}
	if t, ok := n.seen[jti]; ok && t.After(cutoff) {
		return true
	}
	n.seen[jti] = now
	return false
}

// newLeaseSalt generates a fresh 32-byte salt for SessionKEK derivation.
func newLeaseSalt() ([]byte, error) {
	salt := make([]byte, leaseSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func newLeaseID() string {
	return "lease-" + uuid.NewString()
}

const leaseKeyIVLen = 12

// leaseKeyAAD binds a lease-wrapped key to its leaseId and kid.
func leaseKeyAAD(leaseID, kid string) ([]byte, error) {
	return aad.NewBuilder().Str("leaseId", leaseID).Str("kid", kid).Build()
}

// wrapLeaseKey AES-256-GCM-encrypts a VAPID private scalar under SessionKEK.
func wrapLeaseKey(sessionKEK, scalar, aadBytes []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(sessionKEK)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, leaseKeyIVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, iv, scalar, aadBytes)
	return ciphertext, iv, nil
}

// unwrapLeaseKey decrypts a lease-wrapped private scalar under SessionKEK,
// rejecting on auth-tag failure (a tampered leaseId/kid AAD binding fails
// the same way as a tampered ciphertext).
func unwrapLeaseKey(sessionKEK, ciphertext, iv, aadBytes []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKEK)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, ciphertext, aadBytes)
}

// unwrapToECDSA unwraps a lease-wrapped private scalar and reconstructs an
// *ecdsa.PrivateKey suitable for jwt.SigningMethodES256 — the public point
// is recomputed from D because ecdsa signing needs it.
func unwrapToECDSA(sessionKEK, ciphertext, iv, aadBytes []byte) (*ecdsa.PrivateKey, error) {
	dBytes, err := unwrapLeaseKey(sessionKEK, ciphertext, iv, aadBytes)
	if err != nil {
		return nil, err
	}
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(dBytes)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         new(big.Int).SetBytes(dBytes),
	}, nil
}

// JWTPayload is the caller-supplied VAPID claim set for signJWT. Eid is
// optional: when set, it feeds the per-eid sliding-window quota dimension
// (spec.md:129) in addition to the lease's global windows.
type JWTPayload struct {
	Aud string
	Sub string
	Exp int64
	Jti string
	Eid string
}

// validate enforces RFC 8292's claim shape: aud an HTTPS origin, sub a
// mailto: or https: URI, exp no more than 24h out, jti present.
func (p JWTPayload) validate(now time.Time) error {
	if !strings.HasPrefix(p.Aud, "https://") {
		return kmserr.New(kmserr.InvalidPayload, "aud must be an HTTPS origin")
	}
	if !strings.HasPrefix(p.Sub, "mailto:") && !strings.HasPrefix(p.Sub, "https://") {
		return kmserr.New(kmserr.InvalidPayload, "sub must be a mailto: or https: URI")
	}
	if p.Jti == "" {
		return kmserr.New(kmserr.InvalidPayload, "jti is required")
	}
	if time.Unix(p.Exp, 0).Sub(now) > maxPayloadExpiry {
		return kmserr.New(kmserr.InvalidPayload, "exp exceeds 24h per RFC 8292")
	}
	return nil
}
