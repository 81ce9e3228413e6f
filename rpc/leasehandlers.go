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
	"encoding/base64"

	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/lease"
)

// parseSubs reads createLease's subs[] param, a list of
// {aud, eid?} objects describing the push destinations the lease is scoped
// to; malformed entries are skipped rather than rejecting the whole call.
func parseSubs(params map[string]any) []lease.SubRef {
	raw, _ := params["subs"].([]any)
	subs := make([]lease.SubRef, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		aud, _ := m["aud"].(string)
		if aud == "" {
			continue
		}
		eid, _ := m["eid"].(string)
		subs = append(subs, lease.SubRef{Aud: aud, Eid: eid})
	}
	return subs
}

func (d *Dispatcher) handleCreateLease(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	ttlHours := optionalInt(params, "ttlHours", 24)
	subs := parseSubs(params)
	uc, err := d.requireUnlocked(userID)
	if err != nil {
		return nil, err
	}

	rec, err := d.lease.CreateLease(ctx, lease.CreateParams{
		UserID:       userID,
		TTLHours:     ttlHours,
		Subs:         subs,
		MKEK:         uc.MKEK(),
		MS:           uc.MS(),
		UAKKeyPair:   uc.UAKKeyPair(),
		UAKSigner:    uc.UAKSigner(),
		CodeHash:     d.codeHash,
		ManifestHash: d.manifestHash,
		KmsVersion:   d.kmsVersion,
	})
	if err != nil {
		return nil, err
	}
	_ = d.ulk.Touch(userID)
	return map[string]any{
		"leaseId":      rec.LeaseID,
		"kid":          rec.Kid,
		"exp":          rec.Exp.Unix(),
		"createdAt":    rec.CreatedAt.Unix(),
		"lakPublicKey": base64.RawURLEncoding.EncodeToString([]byte(rec.LAKDelegationCert.DelegatePub)),
		"cert":         rec.LAKDelegationCert,
	}, nil
}

func (d *Dispatcher) handleVerifyLease(ctx context.Context, params map[string]any) (map[string]any, error) {
	leaseID, err := requireString(params, "leaseId")
	if err != nil {
		return nil, err
	}
	result, err := d.lease.VerifyLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"leaseId": result.LeaseID,
		"valid":   result.Valid,
		"reason":  result.Reason,
		"kid":     result.Kid,
	}, nil
}

func (d *Dispatcher) handleExtendLease(ctx context.Context, params map[string]any) (map[string]any, error) {
	leaseID, err := requireString(params, "leaseId")
	if err != nil {
		return nil, err
	}
	additionalHours, err := requireInt(params, "additionalHours")
	if err != nil {
		return nil, err
	}
	lak, err := d.lease.LAKSigner(leaseID)
	if err != nil {
		return nil, err
	}
	rec, err := d.lease.ExtendLease(ctx, leaseID, additionalHours, lak)
	if err != nil {
		return nil, err
	}
	return map[string]any{"leaseId": rec.LeaseID, "exp": rec.Exp.Unix()}, nil
}

func (d *Dispatcher) handleRevokeLease(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	leaseID, err := requireString(params, "leaseId")
	if err != nil {
		return nil, err
	}
	uc, err := d.requireUnlocked(userID)
	if err != nil {
		return nil, err
	}
	if err := d.lease.RevokeLease(ctx, leaseID, uc.UAKSigner()); err != nil {
		return nil, err
	}
	_ = d.ulk.Touch(userID)
	return map[string]any{"leaseId": leaseID, "revoked": true}, nil
}

func (d *Dispatcher) handleSignJWT(ctx context.Context, params map[string]any) (map[string]any, error) {
	leaseID, err := requireString(params, "leaseId")
	if err != nil {
		return nil, err
	}
	payloadParams, ok := params["payload"].(map[string]any)
	if !ok {
		return nil, kmserr.New(kmserr.InvalidParams, "payload must be an object")
	}
	aud, err := requireString(payloadParams, "aud")
	if err != nil {
		return nil, err
	}
	sub, err := requireString(payloadParams, "sub")
	if err != nil {
		return nil, err
	}
	exp, err := requireInt(payloadParams, "exp")
	if err != nil {
		return nil, err
	}
	jti, err := requireString(payloadParams, "jti")
	if err != nil {
		return nil, err
	}
	eid := optionalString(payloadParams, "eid")

	lak, err := d.lease.LAKSigner(leaseID)
	if err != nil {
		return nil, err
	}
	jwtStr, expOut, err := d.lease.SignJWT(ctx, leaseID, lease.JWTPayload{
		Aud: aud,
		Sub: sub,
		Exp: int64(exp),
		Jti: jti,
		Eid: eid,
	}, lak)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jwt": jwtStr, "exp": expOut}, nil
}
