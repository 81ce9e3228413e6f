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

package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyLen = 32

// info strings for the three HKDF-SHA256 chains rooted at the Master Secret
// or a PRF output. Versioned so a future KMS revision can fork derivation
// without colliding with keys derived under this one.
const (
	infoMKEK        = "ATS/KMS/MKEK/v2"
	infoSessionKEK  = "ATS/KMS/SessionKEK/v2"
	infoPRFMSSuffix = "ATS/KMS/PRF-MS/v2"
)

// DeriveMKEK derives the Master Key-Encryption Key from the Master Secret.
// No salt: MS is already high-entropy uniformly random key material, not a
// low-entropy secret that needs salting against precomputation.
func DeriveMKEK(ms []byte) ([]byte, error) {
	return hkdfExpand(ms, nil, []byte(infoMKEK))
}

// DeriveSessionKEK derives a lease's SessionKEK from the Master Secret and a
// per-lease salt, so distinct leases never share a SessionKEK even under the
// same Master Secret.
func DeriveSessionKEK(ms, leaseSalt []byte) ([]byte, error) {
	return hkdfExpand(ms, leaseSalt, []byte(infoSessionKEK))
}

// DerivePRFWrappingKey derives the key that wraps the Master Secret for the
// passkey-PRF enrollment method from a WebAuthn PRF extension output, salted
// with hkdfSalt and bound to appSalt via the info parameter so the same PRF
// output used by a different relying party/application never yields the
// same wrapping key.
func DerivePRFWrappingKey(prfOutput, hkdfSalt, appSalt []byte) ([]byte, error) {
	info := append(append([]byte{}, appSalt...), []byte(infoPRFMSSuffix)...)
	return hkdfExpand(prfOutput, hkdfSalt, info)
}

func hkdfExpand(ikm, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
