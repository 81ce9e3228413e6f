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
	"net/url"
	"strings"

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/store"
)

// allowedPushHostSuffixes is the push-service whitelist (spec.md:51):
// FCM/GCM, Mozilla autopush, WNS, and APNs web push. A host matches if it
// equals a suffix or is a subdomain of one.
var allowedPushHostSuffixes = []string{
	"fcm.googleapis.com",
	"android.googleapis.com",
	"push.services.mozilla.com",
	"mozaws.net",
	"notify.windows.com",
	"push.apple.com",
}

// validatePushEndpoint enforces that endpoint is HTTPS and resolves to a
// whitelisted push-service host before it is ever persisted.
func validatePushEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" || u.Hostname() == "" {
		return kmserr.New(kmserr.EndpointNotAllowed, "endpoint must be an https url")
	}
	host := u.Hostname()
	for _, suffix := range allowedPushHostSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return nil
		}
	}
	return kmserr.New(kmserr.EndpointNotAllowed, "endpoint host is not on the push-service whitelist")
}

func (d *Dispatcher) handleGenerateVAPID(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	uc, err := d.requireUnlocked(userID)
	if err != nil {
		return nil, err
	}

	kid, pub, err := d.keys.GenerateVAPID(ctx, uc.MKEK())
	if err != nil {
		return nil, err
	}
	if err := d.appendAudit(ctx, &audit.PendingEntry{Op: "generateVAPID", UserID: userID, Kid: kid}, uc.UAKSigner()); err != nil {
		return nil, err
	}
	_ = d.ulk.Touch(userID)
	return map[string]any{"kid": kid, "publicKey": base64.RawURLEncoding.EncodeToString(pub)}, nil
}

// handleRegenerateVAPID performs the atomic rotation keymanager.RegenerateVAPID
// deliberately does not: wrap a new key, invalidate every lease pinned to
// the old kid, and append the audit entry, as one logical step.
func (d *Dispatcher) handleRegenerateVAPID(ctx context.Context, params map[string]any) (map[string]any, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return nil, err
	}
	oldKid, err := requireString(params, "oldKid")
	if err != nil {
		return nil, err
	}
	uc, err := d.requireUnlocked(userID)
	if err != nil {
		return nil, err
	}

	newKid, pub, err := d.keys.RegenerateVAPID(ctx, uc.MKEK(), oldKid)
	if err != nil {
		return nil, err
	}
	invalidated := d.lease.InvalidateByKid(oldKid)
	if err := d.appendAudit(ctx, &audit.PendingEntry{
		Op:     "regenerateVAPID",
		UserID: userID,
		Kid:    newKid,
		Details: map[string]any{
			"oldKid":            oldKid,
			"leasesInvalidated": invalidated,
		},
	}, uc.UAKSigner()); err != nil {
		return nil, err
	}
	_ = d.ulk.Touch(userID)
	return map[string]any{
		"kid":               newKid,
		"publicKey":         base64.RawURLEncoding.EncodeToString(pub),
		"leasesInvalidated": invalidated,
	}, nil
}

func (d *Dispatcher) handleListKeys(ctx context.Context, params map[string]any) (map[string]any, error) {
	purpose := optionalString(params, "purpose")
	keys, err := d.keys.ListKeys(ctx, purpose)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{
			"kid":       k.Kid,
			"alg":       k.Alg,
			"purpose":   k.Purpose,
			"createdAt": k.CreatedAt.Unix(),
		})
	}
	return map[string]any{"keys": out}, nil
}

func (d *Dispatcher) handleSetPushSubscription(ctx context.Context, params map[string]any) (map[string]any, error) {
	kid, err := requireString(params, "kid")
	if err != nil {
		return nil, err
	}
	endpoint, err := requireString(params, "endpoint")
	if err != nil {
		return nil, err
	}
	p256dh, err := requireString(params, "p256dh")
	if err != nil {
		return nil, err
	}
	auth, err := requireString(params, "auth")
	if err != nil {
		return nil, err
	}
	if err := validatePushEndpoint(endpoint); err != nil {
		return nil, err
	}

	wk, err := d.keys.GetPublicKey(ctx, kid)
	if err != nil {
		return nil, err
	}
	wk.Subscription = &store.PushSubscription{
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		Eid:       optionalString(params, "eid"),
		CreatedAt: nowUTC(),
	}
	if exp, ok := params["expirationTime"]; ok {
		if n, err := requireInt(map[string]any{"x": exp}, "x"); err == nil {
			n64 := int64(n)
			wk.Subscription.ExpirationTime = &n64
		}
	}
	if err := d.wrappedKeys.Put(ctx, wk); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist push subscription", err)
	}
	return map[string]any{"kid": kid, "set": true}, nil
}

func (d *Dispatcher) handleGetPushSubscription(ctx context.Context, params map[string]any) (map[string]any, error) {
	kid, err := requireString(params, "kid")
	if err != nil {
		return nil, err
	}
	wk, err := d.keys.GetPublicKey(ctx, kid)
	if err != nil {
		return nil, err
	}
	if wk.Subscription == nil {
		return map[string]any{"kid": kid, "subscription": nil}, nil
	}
	result := map[string]any{
		"endpoint": wk.Subscription.Endpoint,
		"p256dh":   wk.Subscription.P256dh,
		"auth":     wk.Subscription.Auth,
	}
	if wk.Subscription.ExpirationTime != nil {
		result["expirationTime"] = *wk.Subscription.ExpirationTime
	}
	return map[string]any{"kid": kid, "subscription": result}, nil
}
