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

	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/mastersecret"
)

func (d *Dispatcher) handleIsSetup(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	recs, err := d.store.Enrollments().ListByUser(ctx, userID)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to list enrollments", err)
	}
	return map[string]any{"setup": len(recs) > 0}, nil
}

func (d *Dispatcher) handleSetupPassphrase(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	passphrase, err := requireString(params, "passphrase")
	if err != nil {
		return nil, err
	}
	unlocked, err := d.ms.SetupPassphrase(ctx, userID, passphrase)
	if err != nil {
		return nil, err
	}
	return d.installAndReply(ctx, userID, "passphrase", mastersecret.UnlockSecret{Passphrase: passphrase}, unlocked)
}

func (d *Dispatcher) handleSetupPasskeyPRF(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	credentialID, err := requireString(params, "credentialId")
	if err != nil {
		return nil, err
	}
	rpID, err := requireString(params, "rpId")
	if err != nil {
		return nil, err
	}
	prfOutput, err := requireBytes(params, "prfOutput")
	if err != nil {
		return nil, err
	}
	unlocked, err := d.ms.SetupPasskeyPRF(ctx, userID, credentialID, rpID, prfOutput)
	if err != nil {
		return nil, err
	}
	return d.installAndReply(ctx, userID, "passkey-prf", mastersecret.UnlockSecret{PRFOutput: prfOutput}, unlocked)
}

func (d *Dispatcher) handleSetupPasskeyGate(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	credentialID, err := requireString(params, "credentialId")
	if err != nil {
		return nil, err
	}
	rpID, err := requireString(params, "rpId")
	if err != nil {
		return nil, err
	}
	unlocked, err := d.ms.SetupPasskeyGate(ctx, userID, credentialID, rpID)
	if err != nil {
		return nil, err
	}
	return d.installAndReply(ctx, userID, "passkey-gate", mastersecret.UnlockSecret{}, unlocked)
}

func (d *Dispatcher) handleUnlock(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	method, err := requireString(params, "method")
	if err != nil {
		return nil, err
	}
	secret := mastersecret.UnlockSecret{
		Passphrase:   optionalString(params, "passphrase"),
		PlatformHash: optionalString(params, "platformHash"),
	}
	if raw, ok := params["prfOutput"]; ok {
		secret.PRFOutput, _ = raw.([]byte)
	}

	fn := d.unlockFunc(method, secret)
	uc, err := d.ulk.GetOrUnlock(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	return map[string]any{"userId": uc.UserID(), "unlocked": true}, nil
}

// installAndReply installs the freshly-created unlock context for a setup
// call (so the very next RPC doesn't need a redundant unlock) and returns
// the setup result.
func (d *Dispatcher) installAndReply(ctx context.Context, userID, method string, secret mastersecret.UnlockSecret, unlocked *mastersecret.Unlocked) (map[string]any, error) {
	if _, err := d.ulk.GetOrUnlock(ctx, userID, d.unlockFunc(method, secret)); err != nil {
		return nil, err
	}
	return map[string]any{
		"userId":       userID,
		"enrollmentId": unlocked.Enrollment.EnrollmentID,
		"method":       unlocked.Enrollment.Method,
	}, nil
}

func (d *Dispatcher) handleAddEnrollment(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	method, err := requireString(params, "method")
	if err != nil {
		return nil, err
	}
	uc, err := d.requireUnlocked(userID)
	if err != nil {
		return nil, err
	}

	cap, credentialID, err := d.buildCapability(method, params)
	if err != nil {
		return nil, err
	}
	rec, err := d.ms.AddEnrollment(ctx, userID, uc.MS(), cap, credentialID)
	if err != nil {
		return nil, err
	}
	_ = d.ulk.Touch(userID)
	return map[string]any{"enrollmentId": rec.EnrollmentID, "method": rec.Method}, nil
}

func (d *Dispatcher) handleRemoveEnrollment(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	enrollmentID, err := requireString(params, "enrollmentId")
	if err != nil {
		return nil, err
	}
	if _, err := d.requireUnlocked(userID); err != nil {
		return nil, err
	}
	if err := d.ms.RemoveEnrollment(ctx, userID, enrollmentID); err != nil {
		return nil, err
	}
	_ = d.ulk.Touch(userID)
	return map[string]any{"removed": true}, nil
}

func (d *Dispatcher) handleResetKMS(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := d.ms.ResetKMS(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"reset": true}, nil
}
