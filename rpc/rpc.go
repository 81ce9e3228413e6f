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

// Package rpc implements the request/response dispatcher that fronts the
// KMS core: method-specific parameter validation, translation of every
// error into the wire-stable {id, error:{code,message}} shape, and
// orchestration across mastersecret, keymanager, lease, audit, and
// unlockctx that no single one of those packages owns by itself (most
// notably atomic VAPID rotation: wrap a new key, invalidate every lease
// pinned to the old kid, and append the audit entry as one step).
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/internal/metrics"
)

// Request is one RPC call. Params is left as a loosely-typed map and
// validated per-method; there is no single schema that fits every method.
type Request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is either a success envelope (Result set) or an error envelope
// (Err set) for the given request ID. Never both.
type Response struct {
	ID     string         `json:"id"`
	Result map[string]any `json:"result,omitempty"`
	Err    *ErrorPayload  `json:"error,omitempty"`
}

// ErrorPayload is the wire-stable error shape; Message is safe to show to
// a human but Details must never contain key material.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Dispatch validates req, runs the matching handler, and always returns a
// Response — handler errors are translated, never propagated as a Go
// error, so a caller driving the dispatcher over a transport never needs
// a second error-handling path.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	handler, ok := d.handlers()[req.Method]
	if !ok {
		return errorResponse(req.ID, kmserr.New(kmserr.InvalidMethod, "unknown method: "+req.Method))
	}

	start := time.Now()
	result, err := handler(ctx, req.Params)
	recordMethodMetrics(req.Method, req.Params, err == nil, time.Since(start))

	if err != nil {
		return errorResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: result}
}

// recordMethodMetrics attributes one Dispatch call to the Prometheus
// instruments for its method's domain. Methods outside these families
// (isSetup, getAuditLog, ...) are cheap reads and not separately tracked.
func recordMethodMetrics(method string, params map[string]any, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	switch method {
	case "unlock":
		unlockMethod, _ := params["method"].(string)
		if unlockMethod == "" {
			unlockMethod = "unknown"
		}
		metrics.UnlocksCompleted.WithLabelValues(status).Inc()
		metrics.UnlockDuration.WithLabelValues(unlockMethod).Observe(d.Seconds())
	case "createLease", "extendLease", "verifyLease", "revokeLease":
		if method == "createLease" {
			metrics.LeasesCreated.WithLabelValues(status).Inc()
		}
		op := map[string]string{
			"createLease": "create", "extendLease": "extend",
			"verifyLease": "verify", "revokeLease": "revoke",
		}[method]
		metrics.LeaseOperationDuration.WithLabelValues(op).Observe(d.Seconds())
	case "signJWT":
		metrics.JWTsSigned.WithLabelValues(status).Inc()
		metrics.JWTSignDuration.Observe(d.Seconds())
	case "generateVAPID", "regenerateVAPID":
		alg := "ecdsa-p256"
		op := "sign"
		if !success {
			metrics.CryptoErrors.WithLabelValues(op).Inc()
		}
		metrics.CryptoOperations.WithLabelValues(op, alg).Inc()
		metrics.CryptoOperationDuration.WithLabelValues(op, alg).Observe(d.Seconds())
	}
}

func errorResponse(id string, err error) Response {
	ke, ok := kmserr.As(err)
	if !ok {
		code := kmserr.CryptoError
		if errors.Is(err, context.DeadlineExceeded) {
			code = kmserr.Timeout
		}
		ke = kmserr.Wrap(code, "internal error", err)
	}
	return Response{ID: id, Err: &ErrorPayload{
		Code:    string(ke.Code),
		Message: ke.Message,
		Details: ke.Details,
	}}
}

// handlerFunc is the shape every RPC method implements: take loosely-typed
// params, return a loosely-typed result or a *kmserr.KMSError.
type handlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", kmserr.New(kmserr.InvalidParams, "missing required field: "+key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", kmserr.New(kmserr.InvalidParams, "field must be a non-empty string: "+key)
	}
	return s, nil
}

func optionalString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func requireBytes(params map[string]any, key string) ([]byte, error) {
	v, ok := params[key]
	if !ok {
		return nil, kmserr.New(kmserr.InvalidParams, "missing required field: "+key)
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if b == "" {
			return nil, kmserr.New(kmserr.InvalidParams, "field must not be empty: "+key)
		}
		return []byte(b), nil
	default:
		return nil, kmserr.New(kmserr.InvalidParams, "field must be bytes: "+key)
	}
}

func requireInt(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, kmserr.New(kmserr.InvalidParams, "missing required field: "+key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, kmserr.New(kmserr.InvalidParams, "field must be a number: "+key)
	}
}

func optionalInt(params map[string]any, key string, def int) int {
	n, err := requireInt(params, key)
	if err != nil {
		return def
	}
	return n
}

func nowUTC() time.Time { return time.Now().UTC() }
