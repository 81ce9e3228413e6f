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

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/kdf"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/internal/metrics"
	"github.com/sage-x-project/ats-kms/keymanager"
	"github.com/sage-x-project/ats-kms/lease"
	"github.com/sage-x-project/ats-kms/mastersecret"
	"github.com/sage-x-project/ats-kms/store"
	"github.com/sage-x-project/ats-kms/unlockctx"
)

// Dispatcher wires the KMS core packages behind the RPC method table. It
// owns no state of its own beyond the instance identity and the KIAK
// keypair; everything else lives in the store or in the unlock/lease
// managers it holds.
type Dispatcher struct {
	store       store.Store
	wrappedKeys store.WrappedKeyStore

	ms    *mastersecret.Manager
	keys  *keymanager.Manager
	audit *audit.Chain
	ulk   *unlockctx.Manager
	lease *lease.Manager

	instanceID   string
	codeHash     string
	manifestHash string
	kmsVersion   int

	// kiak signs entries on behalf of the instance itself (audit.Append's
	// rotation/resetKMS and unauthorized-access log entries, which have no
	// user context to supply a UAK). A single in-process keypair generated
	// at construction time is a deliberate simplification: a production
	// instance would mint this once during provisioning and persist it
	// wrapped the same way a UAK is, but nothing in the spec's object model
	// gives it a home distinct from "audit-instance" purpose, so it is
	// generated fresh per process and never persisted.
	kiak    audit.Signer
	kiakPub ed25519.PublicKey
}

// Deps bundles the constructor's collaborators.
type Deps struct {
	Store        store.Store
	GateUnwrap   mastersecret.GateUnwrapper
	InstanceID   string
	CodeHash     string
	ManifestHash string
	KmsVersion   int
}

// NewDispatcher builds the full KMS core from a Store and wires the
// cross-package orchestration Dispatch needs (kid resolution for lease
// creation, audit appending from within lease operations).
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	kiakKP, err := audit.GenerateKeyPair()
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate instance KIAK", err)
	}

	d := &Dispatcher{
		store:        deps.Store,
		wrappedKeys:  deps.Store.WrappedKeys(),
		ms:           mastersecret.New(deps.Store, deps.GateUnwrap, deps.InstanceID),
		keys:         keymanager.New(deps.Store.WrappedKeys(), deps.KmsVersion),
		audit:        audit.New(deps.Store.Audit()),
		ulk:          unlockctx.NewManager(),
		instanceID:   deps.InstanceID,
		codeHash:     deps.CodeHash,
		manifestHash: deps.ManifestHash,
		kmsVersion:   deps.KmsVersion,
		kiak:         audit.NewKIAKSigner(deps.InstanceID, kiakKP, nil),
		kiakPub:      kiakKP.Public,
	}

	d.lease = lease.NewManager(d.keys, d.currentVAPIDKid, d.appendAudit)
	return d, nil
}

// currentVAPIDKid resolves the live VAPID key, used by lease creation to
// know which WrappedKey to unwrap. A KMS instance is scoped to a single
// browser identity, so there is exactly one live VAPID key at a time;
// regenerateVAPID stores the new key alongside the prior one, and the key
// with the newest CreatedAt is the live one.
func (d *Dispatcher) currentVAPIDKid(ctx context.Context, userID string) (string, error) {
	keys, err := d.keys.ListKeys(ctx, "vapid")
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", kmserr.New(kmserr.KeyNotFound, "no VAPID key for user: "+userID)
	}
	current := keys[0]
	for _, k := range keys[1:] {
		if k.CreatedAt.After(current.CreatedAt) {
			current = k
		}
	}
	return current.Kid, nil
}

// appendAudit is the AuditAppender lease.Manager calls after every leased
// operation; it is just a thin adapter over audit.Chain.Append.
func (d *Dispatcher) appendAudit(ctx context.Context, pending *audit.PendingEntry, signer audit.Signer) error {
	_, err := d.audit.Append(ctx, pending, signer)
	return err
}

// unlockFunc builds the unlockctx.UnlockFunc for one unlock attempt: it
// runs mastersecret.Unlock, derives MKEK, and ensures a UAK exists, all
// under the user's freshly-unlocked MS.
func (d *Dispatcher) unlockFunc(method string, secret mastersecret.UnlockSecret) unlockctx.UnlockFunc {
	return func(ctx context.Context, userID string) ([]byte, []byte, audit.Signer, *audit.KeyPair, error) {
		metrics.UnlocksInitiated.WithLabelValues(method).Inc()
		unlocked, err := d.ms.Unlock(ctx, userID, method, secret)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		mkek, err := kdf.DeriveMKEK(unlocked.MS)
		if err != nil {
			return nil, nil, nil, nil, kmserr.Wrap(kmserr.CryptoError, "failed to derive mkek", err)
		}
		signer, kp, err := d.ensureUAK(ctx, userID, mkek)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return unlocked.MS, mkek, signer, kp, nil
	}
}

// requireUnlocked fetches the live unlock context for userId, translating
// a missing context into the wire NOT_UNLOCKED error every handler that
// needs MS/MKEK/UAK should return.
func (d *Dispatcher) requireUnlocked(userID string) (*unlockctx.Context, error) {
	return d.ulk.Get(userID)
}
