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

// Package mastersecret implements the Master Secret lifecycle: enrollment
// under any of three authentication methods, unlock, rewrap on
// addEnrollment, removal on removeEnrollment, and reset.
//
// Per the tagged-variant design (spec.md §9, "dynamic dispatch over
// authentication methods"), every enrollment method exposes the same
// capability — deriveKEK(secret) and buildAAD() — and the Manager derives
// KEKs and AADs through that capability; AddEnrollment, Unlock and the
// record-to-capability conversion still switch on the method.
package mastersecret

import (
	"github.com/sage-x-project/ats-kms/internal/aad"
	"github.com/sage-x-project/ats-kms/internal/kdf"
	"github.com/sage-x-project/ats-kms/store"
)

const kmsVersion = 2

// Capability is the uniform interface every enrollment method variant
// implements: derive this method's KEK from its secret input, and build
// the AAD bound to the MS ciphertext under that KEK.
type Capability interface {
	Method() string
	DeriveKEK() ([]byte, error)
	BuildAAD(credentialID string) ([]byte, error)
}

// PassphraseCapability derives its KEK via PBKDF2.
type PassphraseCapability struct {
	Passphrase string
	Salt       []byte
	Iterations int
}

func (c *PassphraseCapability) Method() string { return "passphrase" }

func (c *PassphraseCapability) DeriveKEK() ([]byte, error) {
	return kdf.PBKDF2DeriveKEK(c.Passphrase, c.Salt, c.Iterations), nil
}

func (c *PassphraseCapability) BuildAAD(credentialID string) ([]byte, error) {
	return buildMSAAD(c.Method(), 1, "ms-wrap", credentialID)
}

// PasskeyPRFCapability derives its KEK from a WebAuthn PRF extension
// output via HKDF.
type PasskeyPRFCapability struct {
	PRFOutput []byte
	HKDFSalt  []byte
	AppSalt   []byte
}

func (c *PasskeyPRFCapability) Method() string { return "passkey-prf" }

func (c *PasskeyPRFCapability) DeriveKEK() ([]byte, error) {
	return kdf.DerivePRFWrappingKey(c.PRFOutput, c.HKDFSalt, c.AppSalt)
}

func (c *PasskeyPRFCapability) BuildAAD(credentialID string) ([]byte, error) {
	return buildMSAAD(c.Method(), 1, "ms-wrap", credentialID)
}

// GateUnwrapper is the abstract collaborator that unwraps a server-side
// pepper into a usable key. Its custody and retrieval protocol are outside
// this spec (spec.md §9 open question 1); this package only consumes its
// output.
type GateUnwrapper interface {
	Unwrap(pepperWrapped []byte) ([]byte, error)
}

// PasskeyGateCapability delegates KEK derivation entirely to a
// GateUnwrapper: the passkey assertion is a precondition checked by the
// caller, not by this capability.
type PasskeyGateCapability struct {
	PepperWrapped []byte
	Gate          GateUnwrapper
}

func (c *PasskeyGateCapability) Method() string { return "passkey-gate" }

func (c *PasskeyGateCapability) DeriveKEK() ([]byte, error) {
	return c.Gate.Unwrap(c.PepperWrapped)
}

func (c *PasskeyGateCapability) BuildAAD(credentialID string) ([]byte, error) {
	return buildMSAAD(c.Method(), 1, "ms-wrap", credentialID)
}

// buildMSAAD constructs the AAD bound to every MS ciphertext:
// {kmsVersion, method, algVersion, purpose, credentialId?}.
func buildMSAAD(method string, algVersion int, purpose, credentialID string) ([]byte, error) {
	b := aad.NewBuilder().
		Int("kmsVersion", kmsVersion).
		Str("method", method).
		Int("algVersion", int64(algVersion)).
		Str("purpose", purpose)
	if credentialID != "" {
		b = b.Str("credentialId", credentialID)
	}
	return b.Build()
}

// recordToCapability reconstructs the Capability a stored EnrollmentRecord
// was created under, given the caller-supplied secret material for unlock.
func recordToCapability(rec *store.EnrollmentRecord, secret UnlockSecret, gate GateUnwrapper) (Capability, error) {
	switch rec.Method {
	case "passphrase":
		return &PassphraseCapability{Passphrase: secret.Passphrase, Salt: rec.KDFSalt, Iterations: rec.KDFIterations}, nil
	case "passkey-prf":
		return &PasskeyPRFCapability{PRFOutput: secret.PRFOutput, HKDFSalt: rec.HKDFSalt, AppSalt: rec.AppSalt}, nil
	case "passkey-gate":
		return &PasskeyGateCapability{PepperWrapped: rec.PepperWrapped, Gate: gate}, nil
	default:
		return nil, errUnknownMethod
	}
}

// UnlockSecret carries whichever secret material a given method needs; only
// the field matching EnrollmentRecord.Method is read. PlatformHash is a
// fingerprint of the host performing the unlock, used only by the
// passphrase method to decide whether the stored PBKDF2 calibration is
// still valid for the machine that's asking.
type UnlockSecret struct {
	Passphrase   string
	PRFOutput    []byte
	PlatformHash string
}
