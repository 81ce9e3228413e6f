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

// Package keymanager wraps and unwraps application keys under the Master
// Key-Encryption Key, and owns the VAPID (ECDSA P-256) key lifecycle:
// generation, rotation, and content-addressed lookup by kid.
package keymanager

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"math/big"
	"time"

	"github.com/sage-x-project/ats-kms/internal/aad"
	"github.com/sage-x-project/ats-kms/internal/codec"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/store"
)

const ivLen = 12

// Manager wraps/unwraps application keys under MKEK and manages the VAPID
// key lifecycle. It holds no MKEK itself; callers (the Unlock-Context
// Manager) supply it per call so the key never outlives the operation.
type Manager struct {
	store      store.WrappedKeyStore
	kmsVersion int
}

// New constructs a Manager over a WrappedKeyStore.
func New(s store.WrappedKeyStore, kmsVersion int) *Manager {
	return &Manager{store: s, kmsVersion: kmsVersion}
}

// wrapAAD builds the WrappedKey AAD: {kmsVersion, kid, alg, purpose,
// createdAt, keyType}.
func (m *Manager) wrapAAD(kid, alg, purpose, keyType string, createdAt time.Time) ([]byte, error) {
	return aad.NewBuilder().
		Int("kmsVersion", int64(m.kmsVersion)).
		Str("kid", kid).
		Str("alg", alg).
		Str("purpose", purpose).
		Int("createdAt", createdAt.Unix()).
		Str("keyType", keyType).
		Build()
}

// wrap AES-256-GCM-encrypts privateKey under mkek with a fresh random IV
// and the given AAD.
func wrap(mkek, privateKey, aadBytes []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(mkek)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, iv, privateKey, aadBytes)
	return ciphertext, iv, nil
}

// unwrap AES-256-GCM-decrypts a WrappedKey's ciphertext under mkek,
// rejecting on auth-tag failure — including any case where a bound AAD
// field was altered.
func unwrap(mkek, ciphertext, iv, aadBytes []byte) ([]byte, error) {
	block, err := aes.NewCipher(mkek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, aadBytes)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "key unwrap failed", err)
	}
	return plaintext, nil
}

// GenerateVAPID creates a new ECDSA P-256 key, wraps its private scalar
// under mkek, and persists it with purpose "vapid". The kid is the RFC 7638
// thumbprint of the raw public key — content-derived, never caller-chosen.
func (m *Manager) GenerateVAPID(ctx context.Context, mkek []byte) (kid string, publicKeyRaw []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate VAPID key", err)
	}
	raw := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	kid, err = codec.ThumbprintFromRawP256(raw)
	if err != nil {
		return "", nil, kmserr.Wrap(kmserr.CryptoError, "failed to compute VAPID kid", err)
	}

	createdAt := time.Now().UTC()
	aadBytes, err := m.wrapAAD(kid, "ES256", "vapid", "EC-P256", createdAt)
	if err != nil {
		return "", nil, err
	}
	ciphertext, iv, err := wrap(mkek, priv.D.Bytes(), aadBytes)
	if err != nil {
		return "", nil, kmserr.Wrap(kmserr.CryptoError, "failed to wrap VAPID key", err)
	}

	wk := &store.WrappedKey{
		Kid:          kid,
		KmsVersion:   m.kmsVersion,
		WrappedKey:   ciphertext,
		IV:           iv,
		AAD:          aadBytes,
		PublicKeyRaw: raw,
		Alg:          "ES256",
		Purpose:      "vapid",
		KeyType:      "EC-P256",
		CreatedAt:    createdAt,
	}
	if err := m.store.Put(ctx, wk); err != nil {
		return "", nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist VAPID key", err)
	}
	return kid, raw, nil
}

// RegenerateVAPID generates and persists a new VAPID key for a user and
// returns its kid and public key. oldKid is not used and the old key stays
// stored; the caller (typically the RPC layer) invalidates leases bound to
// the old kid and appends the rotation audit entry.
func (m *Manager) RegenerateVAPID(ctx context.Context, mkek []byte, oldKid string) (newKid string, publicKeyRaw []byte, err error) {
	return m.GenerateVAPID(ctx, mkek)
}

// UnwrapPrivateKey loads and decrypts the private scalar for kid under
// mkek, reconstructing the same AAD the key was wrapped with.
func (m *Manager) UnwrapPrivateKey(ctx context.Context, mkek []byte, kid string) (*ecdsa.PrivateKey, error) {
	wk, err := m.store.Get(ctx, kid)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, kmserr.New(kmserr.KeyNotFound, "no such kid")
		}
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to load wrapped key", err)
	}
	aadBytes, err := m.wrapAAD(wk.Kid, wk.Alg, wk.Purpose, wk.KeyType, wk.CreatedAt)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to build wrapped key aad", err)
	}
	dBytes, err := unwrap(mkek, wk.WrappedKey, wk.IV, aadBytes)
	if err != nil {
		return nil, err
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, wk.PublicKeyRaw)
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         new(big.Int).SetBytes(dBytes),
	}
	return priv, nil
}

// GetPublicKey returns the raw public key and metadata for kid.
func (m *Manager) GetPublicKey(ctx context.Context, kid string) (*store.WrappedKey, error) {
	wk, err := m.store.Get(ctx, kid)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, kmserr.New(kmserr.KeyNotFound, "no such kid")
		}
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to load key", err)
	}
	return wk, nil
}

// ListKeys lists all keys, optionally filtered to a purpose.
func (m *Manager) ListKeys(ctx context.Context, purpose string) ([]*store.WrappedKey, error) {
	if purpose == "" {
		all := make([]*store.WrappedKey, 0)
		for _, p := range []string{"vapid", "audit-user", "audit-lease", "audit-instance"} {
			keys, err := m.store.ListByPurpose(ctx, p)
			if err != nil {
				return nil, err
			}
			all = append(all, keys...)
		}
		return all, nil
	}
	return m.store.ListByPurpose(ctx, purpose)
}
