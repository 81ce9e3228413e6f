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

package mastersecret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/ats-kms/internal/kdf"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/store"
)

const (
	msLen            = 32
	msIVLen          = 12
	minPassphraseLen = 12
	kcvLabel         = "ATS/KMS/KCV/v2"

	// recalibrateAfter bounds how long a passphrase enrollment's PBKDF2
	// iteration count is trusted before Unlock re-times it: a calibration
	// from a year-old, much slower (or faster) host no longer reflects the
	// target derivation cost on the machine unlocking now.
	recalibrateAfter = 30 * 24 * time.Hour
)

var errUnknownMethod = errors.New("mastersecret: unknown enrollment method")

// Manager implements setup/unlock/addEnrollment/removeEnrollment/resetKMS
// against a store.Store. It never persists MS in plaintext; every stored
// enrollment holds only an AEAD-encrypted copy.
type Manager struct {
	store      store.Store
	gate       GateUnwrapper
	instanceID string
}

// New constructs a Manager over a store.Store. gate may be nil if
// passkey-gate enrollment is not in use.
func New(s store.Store, gate GateUnwrapper, instanceID string) *Manager {
	return &Manager{store: s, gate: gate, instanceID: instanceID}
}

// Gate returns the GateUnwrapper the Manager was constructed with, so
// callers can build a PasskeyGateCapability for addEnrollment without this
// package exposing its internal field.
func (m *Manager) Gate() GateUnwrapper { return m.gate }

// Unlocked is the result of a successful unlock/setup: the live MS and
// enough context to derive MKEK, along with the enrollment it was unlocked
// from.
type Unlocked struct {
	MS         []byte
	Enrollment *store.EnrollmentRecord
}

// SetupPassphrase creates the first (and, at this point, only) enrollment
// for userId: a fresh random MS, calibrated PBKDF2 parameters, and the
// passphrase-derived KEK wrapping it.
func (m *Manager) SetupPassphrase(ctx context.Context, userID, passphrase string) (*Unlocked, error) {
	if len(passphrase) < minPassphraseLen {
		return nil, kmserr.New(kmserr.WeakPassphrase, "passphrase must be at least 12 characters")
	}
	if existing, _ := m.store.Enrollments().ListByUser(ctx, userID); len(existing) > 0 {
		return nil, kmserr.New(kmserr.AlreadySetup, "user already has an enrollment")
	}

	ms := make([]byte, msLen)
	if _, err := io.ReadFull(rand.Reader, ms); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate master secret", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate kdf salt", err)
	}
	params := kdf.DefaultCalibrationParams()
	iterations, err := kdf.PBKDF2Calibrate(params)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "pbkdf2 calibration failed", err)
	}

	cap := &PassphraseCapability{Passphrase: passphrase, Salt: salt, Iterations: iterations}
	rec, err := m.encryptAndStore(ctx, userID, cap, ms, "")
	if err != nil {
		return nil, err
	}
	rec.KDFSalt = salt
	rec.KDFIterations = iterations
	rec.LastCalibrated = time.Now().UTC()
	rec.KCV = computeKCV(mustKEK(cap))
	if err := m.store.Enrollments().Put(ctx, rec); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist enrollment", err)
	}

	return &Unlocked{MS: ms, Enrollment: rec}, nil
}

// SetupPasskeyPRF creates the first enrollment for userId under the
// passkey-PRF method.
func (m *Manager) SetupPasskeyPRF(ctx context.Context, userID, credentialID, rpID string, prfOutput []byte) (*Unlocked, error) {
	if existing, _ := m.store.Enrollments().ListByUser(ctx, userID); len(existing) > 0 {
		return nil, kmserr.New(kmserr.AlreadySetup, "user already has an enrollment")
	}
	ms := make([]byte, msLen)
	if _, err := io.ReadFull(rand.Reader, ms); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate master secret", err)
	}
	hkdfSalt := make([]byte, 16)
	appSalt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, hkdfSalt); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate hkdf salt", err)
	}
	if _, err := io.ReadFull(rand.Reader, appSalt); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate app salt", err)
	}

	cap := &PasskeyPRFCapability{PRFOutput: prfOutput, HKDFSalt: hkdfSalt, AppSalt: appSalt}
	rec, err := m.encryptAndStore(ctx, userID, cap, ms, credentialID)
	if err != nil {
		return nil, err
	}
	rec.CredentialID = credentialID
	rec.RPID = rpID
	rec.HKDFSalt = hkdfSalt
	rec.AppSalt = appSalt
	if err := m.store.Enrollments().Put(ctx, rec); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist enrollment", err)
	}
	return &Unlocked{MS: ms, Enrollment: rec}, nil
}

// SetupPasskeyGate creates the first enrollment for userId under the
// passkey-gate method: a server-supplied pepper (opaque to this package)
// wraps MS, and the passkey assertion merely gates access to it.
func (m *Manager) SetupPasskeyGate(ctx context.Context, userID, credentialID, rpID string) (*Unlocked, error) {
	if existing, _ := m.store.Enrollments().ListByUser(ctx, userID); len(existing) > 0 {
		return nil, kmserr.New(kmserr.AlreadySetup, "user already has an enrollment")
	}
	if m.gate == nil {
		return nil, kmserr.New(kmserr.CryptoError, "no gate-unwrap collaborator configured")
	}
	ms := make([]byte, msLen)
	if _, err := io.ReadFull(rand.Reader, ms); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate master secret", err)
	}
	pepper := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, pepper); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to generate pepper", err)
	}

	cap := &PasskeyGateCapability{PepperWrapped: pepper, Gate: m.gate}
	rec, err := m.encryptAndStore(ctx, userID, cap, ms, credentialID)
	if err != nil {
		return nil, err
	}
	rec.CredentialID = credentialID
	rec.RPID = rpID
	rec.PepperWrapped = pepper
	if err := m.store.Enrollments().Put(ctx, rec); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist enrollment", err)
	}
	return &Unlocked{MS: ms, Enrollment: rec}, nil
}

func mustKEK(cap Capability) []byte {
	kek, err := cap.DeriveKEK()
	if err != nil {
		return nil
	}
	return kek
}

// encryptAndStore encrypts ms under cap's derived KEK and builds the
// EnrollmentRecord shell (caller fills in method-specific fields).
func (m *Manager) encryptAndStore(ctx context.Context, userID string, cap Capability, ms []byte, credentialID string) (*store.EnrollmentRecord, error) {
	kek, err := cap.DeriveKEK()
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to derive enrollment kek", err)
	}
	aadBytes, err := cap.BuildAAD(credentialID)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to build ms aad", err)
	}
	ciphertext, iv, err := encryptMS(kek, ms, aadBytes)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to encrypt master secret", err)
	}
	now := time.Now().UTC()
	return &store.EnrollmentRecord{
		EnrollmentID: "enr-" + uuid.NewString(),
		Method:       cap.Method(),
		UserID:       userID,
		EncryptedMS:  ciphertext,
		MSIV:         iv,
		MSAAD:        aadBytes,
		MSVersion:    1,
		AlgVersion:   1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func encryptMS(kek, ms, aadBytes []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, msIVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, iv, ms, aadBytes)
	return ciphertext, iv, nil
}

func decryptMS(kek, ciphertext, iv, aadBytes []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, ciphertext, aadBytes)
}

// computeKCV is HMAC-SHA256(kek, "ATS/KMS/KCV/v2"): an early wrong-passphrase
// detector that never touches the AEAD auth tag.
func computeKCV(kek []byte) []byte {
	mac := hmac.New(sha256.New, kek)
	mac.Write([]byte(kcvLabel))
	return mac.Sum(nil)
}

// Unlock re-derives the KEK for the given method/secret, verifies it (KCV
// for passphrase; AEAD auth tag for every method), and returns the live MS.
func (m *Manager) Unlock(ctx context.Context, userID, method string, secret UnlockSecret) (*Unlocked, error) {
	recs, err := m.store.Enrollments().ListByMethod(ctx, userID, method)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to load enrollments", err)
	}
	if len(recs) == 0 {
		all, _ := m.store.Enrollments().ListByUser(ctx, userID)
		if len(all) == 0 {
			return nil, kmserr.New(kmserr.NotSetup, "user is not set up")
		}
		return nil, kmserr.New(kmserr.BadCredentials, "no enrollment for requested method")
	}
	rec := recs[0]

	cap, err := recordToCapability(rec, secret, m.gate)
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to reconstruct enrollment capability", err)
	}
	kek, err := cap.DeriveKEK()
	if err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to derive kek", err)
	}

	if method == "passphrase" {
		wantKCV := computeKCV(kek)
		if !hmac.Equal(wantKCV, rec.KCV) {
			return nil, kmserr.New(kmserr.KCVMismatch, "passphrase does not match")
		}
	}

	ms, err := decryptMS(kek, rec.EncryptedMS, rec.MSIV, rec.MSAAD)
	if err != nil {
		return nil, kmserr.New(kmserr.MSAuthFailed, "master secret decryption failed")
	}

	if method == "passphrase" {
		if err := m.maybeRecalibrate(ctx, rec, secret, ms); err != nil {
			return nil, err
		}
	}

	return &Unlocked{MS: ms, Enrollment: rec}, nil
}

// maybeRecalibrate rewraps a passphrase enrollment's MS under a freshly
// calibrated KEK when the stored calibration is stale: the host fingerprint
// that calibrated it no longer matches the one unlocking now, or the
// calibration has aged past recalibrateAfter. The new iteration count, new
// salt, and the MS rewrap under the resulting KEK are persisted together in
// one store.Put so the record never reflects a partial update (spec.md §9
// open question 3).
func (m *Manager) maybeRecalibrate(ctx context.Context, rec *store.EnrollmentRecord, secret UnlockSecret, ms []byte) error {
	if !kdf.NeedsRecalibration(rec.LastCalibrated, rec.PlatformHash, secret.PlatformHash, recalibrateAfter) {
		return nil
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to generate kdf salt", err)
	}
	iterations, err := kdf.PBKDF2Calibrate(kdf.DefaultCalibrationParams())
	if err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "pbkdf2 calibration failed", err)
	}

	cap := &PassphraseCapability{Passphrase: secret.Passphrase, Salt: salt, Iterations: iterations}
	kek, err := cap.DeriveKEK()
	if err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to derive recalibrated kek", err)
	}
	aadBytes, err := cap.BuildAAD(rec.CredentialID)
	if err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to build ms aad", err)
	}
	ciphertext, iv, err := encryptMS(kek, ms, aadBytes)
	if err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to rewrap master secret", err)
	}

	rec.EncryptedMS = ciphertext
	rec.MSIV = iv
	rec.MSAAD = aadBytes
	rec.KDFSalt = salt
	rec.KDFIterations = iterations
	rec.LastCalibrated = time.Now().UTC()
	rec.PlatformHash = secret.PlatformHash
	rec.KCV = computeKCV(kek)
	rec.UpdatedAt = time.Now().UTC()

	if err := m.store.Enrollments().Put(ctx, rec); err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to persist recalibrated enrollment", err)
	}
	return nil
}

// AddEnrollment rewraps the live MS under a new method's KEK and appends a
// new EnrollmentRecord. The MS value itself never changes, and msVersion is
// not incremented on add/remove (spec.md §9 open question 2).
func (m *Manager) AddEnrollment(ctx context.Context, userID string, ms []byte, newCap Capability, credentialID string) (*store.EnrollmentRecord, error) {
	rec, err := m.encryptAndStore(ctx, userID, newCap, ms, credentialID)
	if err != nil {
		return nil, err
	}
	if pc, ok := newCap.(*PassphraseCapability); ok {
		rec.KDFSalt = pc.Salt
		rec.KDFIterations = pc.Iterations
		rec.LastCalibrated = time.Now().UTC()
		kek, _ := newCap.DeriveKEK()
		rec.KCV = computeKCV(kek)
	}
	if pp, ok := newCap.(*PasskeyPRFCapability); ok {
		rec.CredentialID = credentialID
		rec.HKDFSalt = pp.HKDFSalt
		rec.AppSalt = pp.AppSalt
	}
	if pg, ok := newCap.(*PasskeyGateCapability); ok {
		rec.CredentialID = credentialID
		rec.PepperWrapped = pg.PepperWrapped
	}
	if err := m.store.Enrollments().Put(ctx, rec); err != nil {
		return nil, kmserr.Wrap(kmserr.CryptoError, "failed to persist enrollment", err)
	}
	return rec, nil
}

// RemoveEnrollment deletes an enrollment record, refusing to remove the
// last one for a user.
func (m *Manager) RemoveEnrollment(ctx context.Context, userID, enrollmentID string) error {
	all, err := m.store.Enrollments().ListByUser(ctx, userID)
	if err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to list enrollments", err)
	}
	if len(all) <= 1 {
		return kmserr.New(kmserr.LastEnrollment, "cannot remove the last enrollment method")
	}
	if err := m.store.Enrollments().Delete(ctx, enrollmentID); err != nil {
		return kmserr.Wrap(kmserr.CryptoError, "failed to delete enrollment", err)
	}
	return nil
}

// ResetKMS destroys every store atomically.
func (m *Manager) ResetKMS(ctx context.Context) error {
	resettable, ok := m.store.(store.Resettable)
	if !ok {
		return kmserr.New(kmserr.CryptoError, "backend does not support atomic reset")
	}
	return resettable.ResetAll(ctx, m.instanceID)
}
