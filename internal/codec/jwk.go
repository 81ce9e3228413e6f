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

package codec

import (
	"crypto/sha256"
	"encoding/json"
)

// JWK is the subset of RFC 7517 fields the KMS ever emits: a public, P-256
// (EC) key. The core never puts a "d" (private) member on the wire.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

const rawP256Len = 65

// RawP256ToJWK converts an uncompressed SEC1 P-256 public key (0x04 || X || Y,
// 65 bytes) into its JWK representation.
func RawP256ToJWK(raw []byte) (*JWK, error) {
	if len(raw) != rawP256Len || raw[0] != 0x04 {
		return nil, ErrInvalidLength
	}
	x := raw[1:33]
	y := raw[33:65]
	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   B64URLEncode(x),
		Y:   B64URLEncode(y),
	}, nil
}

// JWKThumbprint computes the RFC 7638 thumbprint of a JWK: the lexicographic
// members {crv,kty,x,y} are serialized as compact JSON (no insignificant
// whitespace) and hashed with SHA-256; the digest is base64url-encoded.
//
// The member set and ordering are part of the spec, not an implementation
// choice: substituting any other ordering breaks interop with any other
// thumbprint implementation of the same key.
func JWKThumbprint(jwk *JWK) (string, error) {
	canonical := struct {
		Crv string `json:"crv"`
		Kty string `json:"kty"`
		X   string `json:"x"`
		Y   string `json:"y"`
	}{Crv: jwk.Crv, Kty: jwk.Kty, X: jwk.X, Y: jwk.Y}

	b, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return B64URLEncode(sum[:]), nil
}

// ThumbprintFromRawP256 is the common-case helper: raw SEC1 public key bytes
// straight to a kid.
func ThumbprintFromRawP256(raw []byte) (string, error) {
	jwk, err := RawP256ToJWK(raw)
	if err != nil {
		return "", err
	}
	return JWKThumbprint(jwk)
}
