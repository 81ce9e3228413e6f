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

// Package kdf implements the key-derivation chains the KMS uses to turn a
// user-supplied secret into the Master Secret's wrapping key, and the Master
// Secret into the per-purpose keys that encrypt everything else: PBKDF2
// calibration for the passphrase path, and three HKDF-SHA256 chains: two
// derived from the Master Secret and one from the passkey PRF output.
package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// CalibrationParams bounds how PBKDF2Calibrate picks an iteration count.
type CalibrationParams struct {
	TargetMillis   int
	MinMillis      int
	MaxMillis      int
	MinIterations  int
	MaxIterations  int
	probeIterations int // overridable by tests
}

// DefaultCalibrationParams mirrors the KDF config defaults: a 220ms midpoint
// within a [150,300]ms acceptance window, clamped to [50_000, 2_000_000]
// iterations.
func DefaultCalibrationParams() CalibrationParams {
	return CalibrationParams{
		TargetMillis:    220,
		MinMillis:       150,
		MaxMillis:       300,
		MinIterations:   50_000,
		MaxIterations:   2_000_000,
		probeIterations: 100_000,
	}
}

var ErrCalibrationFailed = errors.New("kdf: calibration probe produced a non-positive duration")

// PBKDF2Calibrate times a fixed-iteration probe derivation and linearly
// scales the iteration count so a real derivation lands near TargetMillis,
// clamped to [MinIterations, MaxIterations].
func PBKDF2Calibrate(params CalibrationParams) (iterations int, err error) {
	probe := params.probeIterations
	if probe <= 0 {
		probe = 100_000
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return 0, err
	}

	start := time.Now()
	_ = pbkdf2.Key([]byte("calibration-probe"), salt, probe, 32, sha256.New)
	elapsed := time.Since(start)

	if elapsed <= 0 {
		return 0, ErrCalibrationFailed
	}

	scaled := int(float64(probe) * float64(params.TargetMillis) / float64(elapsed.Milliseconds()+1))
	if scaled < params.MinIterations {
		scaled = params.MinIterations
	}
	if scaled > params.MaxIterations {
		scaled = params.MaxIterations
	}
	return scaled, nil
}

// PBKDF2DeriveKEK derives a 32-byte AES-256 key-encryption key from a
// passphrase, salt, and iteration count using PBKDF2-HMAC-SHA256.
func PBKDF2DeriveKEK(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
}

// NeedsRecalibration reports whether a stored iteration count should be
// replaced: either the platform fingerprint no longer matches (the host
// that calibrated it is not the host unlocking now) or the calibration is
// older than RecalibrateAfter.
func NeedsRecalibration(calibratedAt time.Time, storedPlatformHash, currentPlatformHash string, recalibrateAfter time.Duration) bool {
	if storedPlatformHash != currentPlatformHash {
		return true
	}
	return time.Since(calibratedAt) > recalibrateAfter
}
