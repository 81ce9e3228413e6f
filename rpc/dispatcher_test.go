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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ats-kms/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Deps{
		Store:        store.NewMemoryStore("test-instance"),
		InstanceID:   "test-instance",
		CodeHash:     "codehash",
		ManifestHash: "manifesthash",
		KmsVersion:   2,
	})
	require.NoError(t, err)
	return d
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{ID: "1", Method: "bogus"})
	require.NotNil(t, resp.Err)
	assert.Equal(t, "INVALID_METHOD", resp.Err.Code)
}

func TestFullLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	setupResp := d.Dispatch(ctx, Request{
		ID:     "1",
		Method: "setupPassphrase",
		Params: map[string]any{"userId": "alice", "passphrase": "correct horse battery staple"},
	})
	require.Nil(t, setupResp.Err)
	assert.Equal(t, "alice", setupResp.Result["userId"])

	genResp := d.Dispatch(ctx, Request{
		ID:     "2",
		Method: "generateVAPID",
		Params: map[string]any{"userId": "alice"},
	})
	require.Nil(t, genResp.Err)
	kid, _ := genResp.Result["kid"].(string)
	assert.NotEmpty(t, kid)

	leaseResp := d.Dispatch(ctx, Request{
		ID:     "3",
		Method: "createLease",
		Params: map[string]any{
			"userId":   "alice",
			"ttlHours": 24,
			"subs":     []any{map[string]any{"aud": "https://fcm.googleapis.com", "eid": "e1"}},
		},
	})
	require.Nil(t, leaseResp.Err)
	leaseID, _ := leaseResp.Result["leaseId"].(string)
	require.NotEmpty(t, leaseID)
	assert.NotEmpty(t, leaseResp.Result["lakPublicKey"])
	assert.NotNil(t, leaseResp.Result["cert"])

	jwtResp := d.Dispatch(ctx, Request{
		ID:     "4",
		Method: "signJWT",
		Params: map[string]any{
			"leaseId": leaseID,
			"payload": map[string]any{
				"aud": "https://fcm.googleapis.com",
				"sub": "mailto:admin@example.com",
				"exp": time.Now().Add(time.Hour).Unix(),
				"jti": "jti-1",
				"eid": "e1",
			},
		},
	})
	require.Nil(t, jwtResp.Err)
	assert.NotEmpty(t, jwtResp.Result["jwt"])

	verifyResp := d.Dispatch(ctx, Request{
		ID:     "5",
		Method: "verifyLease",
		Params: map[string]any{"leaseId": leaseID},
	})
	require.Nil(t, verifyResp.Err)
	assert.Equal(t, true, verifyResp.Result["valid"])

	auditResp := d.Dispatch(ctx, Request{
		ID:     "6",
		Method: "verifyAuditLog",
		Params: map[string]any{"userId": "alice"},
	})
	require.Nil(t, auditResp.Err)
	assert.Equal(t, true, auditResp.Result["ok"])
}

func TestUnlockRequiredForGenerateVAPID(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		ID:     "1",
		Method: "generateVAPID",
		Params: map[string]any{"userId": "nobody"},
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, "NOT_UNLOCKED", resp.Err.Code)
}

func TestRegenerateVAPIDInvalidatesLeases(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	require.Nil(t, d.Dispatch(ctx, Request{Method: "setupPassphrase", Params: map[string]any{
		"userId": "bob", "passphrase": "correct horse battery staple",
	}}).Err)
	gen := d.Dispatch(ctx, Request{Method: "generateVAPID", Params: map[string]any{"userId": "bob"}})
	require.Nil(t, gen.Err)
	oldKid := gen.Result["kid"].(string)

	lease := d.Dispatch(ctx, Request{Method: "createLease", Params: map[string]any{"userId": "bob", "ttlHours": 24}})
	require.Nil(t, lease.Err)
	leaseID := lease.Result["leaseId"].(string)

	regen := d.Dispatch(ctx, Request{Method: "regenerateVAPID", Params: map[string]any{"userId": "bob", "oldKid": oldKid}})
	require.Nil(t, regen.Err)
	assert.Equal(t, 1, regen.Result["leasesInvalidated"])

	verify := d.Dispatch(ctx, Request{Method: "verifyLease", Params: map[string]any{"leaseId": leaseID}})
	require.Nil(t, verify.Err)
	assert.Equal(t, false, verify.Result["valid"])
}
