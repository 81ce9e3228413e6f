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
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"time"

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/aad"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/store"
)

const uakIVLen = 12

// uakAAD mirrors keymanager's WrappedKey AAD shape for the audit-user
// purpose — a distinct function (not reused from keymanager, which is
// ECDSA/VAPID-specific and keeps its wrap helpers unexported).
func uakAAD(kid string, createdAt time.Time) ([]byte, error) {
	return aad.NewBuilder().
		Str("kid", kid).
		Str("alg", "Ed25519").
		Str("purpose", "audit-user").
		Int("createdAt", createdAt.Unix()).
		Build()
}

func wrapUAK(mkek, priv []byte, aadBytes []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(mkek)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, uakIVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, iv, priv, aadBytes), iv, nil
}

func unwrapUAK(mkek, ciphertext, iv, aadBytes []byte) ([]byte, error) {
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
		return nil, kmserr.Wrap(kmserr.CryptoError, "UAK unwrap failed", err)
	}
	return plaintext, nil
}

// ensureUAK returns the user's User Audit Key, wrapped under mkek,
// generating and persisting one on first use. The kid is deterministic
// per user so repeated unlocks find the same key.
func (d *Dispatcher) ensureUAK(ctx context.Context, userID string, mkek []byte) (audit.Signer, *audit.KeyPair, error) {
	kid := "uak:" + userID
	wk, err := d.keys.GetPublicKey(ctx, kid)
	if err == nil {
		privBytes, err := unwrapUAK(mkek, wk.WrappedKey, wk.IV, wk.AAD)
		if err != nil {
			return nil, nil, err
		}
		kp := &audit.KeyPair{Public: ed25519.PublicKey(wk.PublicKeyRaw), Private: ed25519.PrivateKey(privBytes)}
		return audit.NewUAKSigner(kid, kp), kp, nil
	}
	ke, ok := kmserr.As(err)
	if !ok || ke.Code != kmserr.KeyNotFound {
		return nil, nil, err
	}

	kp, err := audit.GenerateKeyPair()
	if err != nil {
		return nil, nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate UAK", err)
	}
	createdAt := nowUTC()
	aadBytes, err := uakAAD(kid, createdAt)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, iv, err := wrapUAK(mkek, kp.Private, aadBytes)
	if err != nil {
		return nil, nil, kmserr.Wrap(kmserr.CryptoError, "failed to wrap UAK", err)
	}
	rec := &store.WrappedKey{
		Kid:          kid,
		KmsVersion:   d.kmsVersion,
		WrappedKey:   ciphertext,
		IV:           iv,
		AAD:          aadBytes,
		PublicKeyRaw: kp.Public,
		Alg:          "Ed25519",
		Purpose:      "audit-user",
		KeyType:      "Ed25519",
		CreatedAt:    createdAt,
	}
	if err := d.wrappedKeys.Put(ctx, rec); err != nil {
		return nil, nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist UAK", err)
	}
	return audit.NewUAKSigner(kid, kp), kp, nil
}
