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
	"crypto/rand"
	"io"

	"github.com/sage-x-project/ats-kms/internal/kdf"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/mastersecret"
)

// buildCapability constructs the mastersecret.Capability addEnrollment
// needs for method from the raw RPC params, generating fresh per-method
// salts the way the corresponding setup* handler would.
func (d *Dispatcher) buildCapability(method string, params map[string]any) (mastersecret.Capability, string, error) {
	switch method {
	case "passphrase":
		passphrase, err := requireString(params, "passphrase")
		if err != nil {
			return nil, "", err
		}
		salt := make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, "", kmserr.Wrap(kmserr.CryptoError, "failed to generate kdf salt", err)
		}
		iterations, err := kdf.PBKDF2Calibrate(kdf.DefaultCalibrationParams())
		if err != nil {
			return nil, "", kmserr.Wrap(kmserr.CryptoError, "pbkdf2 calibration failed", err)
		}
		return &mastersecret.PassphraseCapability{Passphrase: passphrase, Salt: salt, Iterations: iterations}, "", nil

	case "passkey-prf":
		credentialID, err := requireString(params, "credentialId")
		if err != nil {
			return nil, "", err
		}
		prfOutput, err := requireBytes(params, "prfOutput")
		if err != nil {
			return nil, "", err
		}
		hkdfSalt := make([]byte, 16)
		appSalt := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, hkdfSalt); err != nil {
			return nil, "", kmserr.Wrap(kmserr.CryptoError, "failed to generate hkdf salt", err)
		}
		if _, err := io.ReadFull(rand.Reader, appSalt); err != nil {
			return nil, "", kmserr.Wrap(kmserr.CryptoError, "failed to generate app salt", err)
		}
		return &mastersecret.PasskeyPRFCapability{PRFOutput: prfOutput, HKDFSalt: hkdfSalt, AppSalt: appSalt}, credentialID, nil

	case "passkey-gate":
		credentialID, err := requireString(params, "credentialId")
		if err != nil {
			return nil, "", err
		}
		if d.ms.Gate() == nil {
			return nil, "", kmserr.New(kmserr.CryptoError, "no gate-unwrap collaborator configured")
		}
		pepper := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, pepper); err != nil {
			return nil, "", kmserr.Wrap(kmserr.CryptoError, "failed to generate pepper", err)
		}
		return &mastersecret.PasskeyGateCapability{PepperWrapped: pepper, Gate: d.ms.Gate()}, credentialID, nil

	default:
		return nil, "", kmserr.New(kmserr.InvalidParams, "unknown enrollment method: "+method)
	}
}
