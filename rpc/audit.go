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

package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
)

func (d *Dispatcher) handleGetAuditLog(ctx context.Context, params map[string]any) (map[string]any, error) {
	sinceSeq := int64(optionalInt(params, "sinceSeq", 0))
	limit := optionalInt(params, "limit", 100)

	entries, err := d.store.Audit().ListSince(ctx, sinceSeq, limit)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to list audit entries", err)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"seqNum":    e.SeqNum,
			"timestamp": e.Timestamp.Unix(),
			"op":        e.Op,
			"kid":       e.Kid,
			"userId":    e.UserID,
			"leaseId":   e.LeaseID,
			"signer":    e.Signer,
			"signerId":  e.SignerID,
		})
	}
	return map[string]any{"entries": out}, nil
}

// handleVerifyAuditLog walks the full chain, checking hash linkage and
// every entry's signature — UAK/KIAK entries directly against their known
// roots, LAK entries via their delegation cert, rooted at the requesting
// user's UAK (one KMS instance serves one user, so every LAK delegation in
// the chain traces back to the same UAK).
func (d *Dispatcher) handleVerifyAuditLog(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	uc, err := d.requireUnlocked(userID)
	if err != nil {
		return nil, err
	}
	uakPub := uc.UAKKeyPair().Public

	result, err := audit.Verify(ctx, d.store.Audit(),
		certValidator(uakPub),
		sigVerifier(uakPub, d.kiakPub),
	)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "audit verification failed", err)
	}
	return map[string]any{"ok": result.OK, "firstBadSeq": result.FirstBadSeq}, nil
}

// certValidator accepts entries with no cert (UAK/KIAK, self-rooted) and,
// for LAK entries, requires a cert that covers op at t and was actually
// signed by uakPub.
func certValidator(uakPub ed25519.PublicKey) audit.CertValidator {
	return func(certBytes []byte, signerKind, signerID, op string, t time.Time) bool {
		if signerKind != "LAK" {
			return true
		}
		if len(certBytes) == 0 {
			return false
		}
		var cert audit.DelegationCert
		if err := json.Unmarshal(certBytes, &cert); err != nil {
			return false
		}
		if !cert.CoversOpAt(op, t) {
			return false
		}
		return audit.VerifyCert(&cert, uakPub)
	}
}

// sigVerifier checks the entry signature itself. UAK and KIAK are root
// keys verified against a known public key; LAK's own public key is its
// signerID (the raw key bytes, per lease.Manager.LAKSigner).
func sigVerifier(uakPub, kiakPub ed25519.PublicKey) audit.SigVerifier {
	return func(signerKind, signerID string, canonical, sig []byte) bool {
		switch signerKind {
		case "UAK":
			return ed25519.Verify(uakPub, canonical, sig)
		case "KIAK":
			return ed25519.Verify(kiakPub, canonical, sig)
		case "LAK":
			return ed25519.Verify(ed25519.PublicKey(signerID), canonical, sig)
		default:
			return false
		}
	}
}
