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

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/ats-kms/store"
)

// enrollmentStore implements store.EnrollmentStore against the
// "enrollments" table. Schema (DDL is an operator concern, not shipped by
// this package):
//
//	CREATE TABLE enrollments (
//	  enrollment_id   text PRIMARY KEY,
//	  method          text NOT NULL,
//	  user_id         text NOT NULL,
//	  encrypted_ms    bytea NOT NULL,
//	  ms_iv           bytea NOT NULL,
//	  ms_aad          bytea NOT NULL,
//	  ms_version      int NOT NULL,
//	  alg_version     int NOT NULL,
//	  kcv             bytea NOT NULL DEFAULT '',
//	  kdf_salt        bytea NOT NULL DEFAULT '',
//	  kdf_iterations  int NOT NULL DEFAULT 0,
//	  platform_hash   text NOT NULL DEFAULT '',
//	  last_calibrated timestamptz NOT NULL DEFAULT 'epoch',
//	  credential_id   text NOT NULL DEFAULT '',
//	  rp_id           text NOT NULL DEFAULT '',
//	  app_salt        bytea NOT NULL DEFAULT '',
//	  hkdf_salt       bytea NOT NULL DEFAULT '',
//	  pepper_wrapped  bytea NOT NULL DEFAULT '',
//	  created_at      timestamptz NOT NULL,
//	  updated_at      timestamptz NOT NULL
//	);
type enrollmentStore struct {
	db *pgxpool.Pool
}

func (s *enrollmentStore) Put(ctx context.Context, rec *store.EnrollmentRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO enrollments (
			enrollment_id, method, user_id, encrypted_ms, ms_iv, ms_aad, ms_version,
			alg_version, kcv, kdf_salt, kdf_iterations, platform_hash, last_calibrated,
			credential_id, rp_id, app_salt, hkdf_salt, pepper_wrapped, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (enrollment_id) DO UPDATE SET
			method = EXCLUDED.method, encrypted_ms = EXCLUDED.encrypted_ms,
			ms_iv = EXCLUDED.ms_iv, ms_aad = EXCLUDED.ms_aad, ms_version = EXCLUDED.ms_version,
			alg_version = EXCLUDED.alg_version, kcv = EXCLUDED.kcv, kdf_salt = EXCLUDED.kdf_salt,
			kdf_iterations = EXCLUDED.kdf_iterations, platform_hash = EXCLUDED.platform_hash,
			last_calibrated = EXCLUDED.last_calibrated, credential_id = EXCLUDED.credential_id,
			rp_id = EXCLUDED.rp_id, app_salt = EXCLUDED.app_salt, hkdf_salt = EXCLUDED.hkdf_salt,
			pepper_wrapped = EXCLUDED.pepper_wrapped, updated_at = EXCLUDED.updated_at`,
		rec.EnrollmentID, rec.Method, rec.UserID, rec.EncryptedMS, rec.MSIV, rec.MSAAD, rec.MSVersion,
		rec.AlgVersion, rec.KCV, rec.KDFSalt, rec.KDFIterations, rec.PlatformHash, rec.LastCalibrated,
		rec.CredentialID, rec.RPID, rec.AppSalt, rec.HKDFSalt, rec.PepperWrapped, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *enrollmentStore) Get(ctx context.Context, enrollmentID string) (*store.EnrollmentRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT enrollment_id, method, user_id, encrypted_ms, ms_iv, ms_aad, ms_version,
			alg_version, kcv, kdf_salt, kdf_iterations, platform_hash, last_calibrated,
			credential_id, rp_id, app_salt, hkdf_salt, pepper_wrapped, created_at, updated_at
		FROM enrollments WHERE enrollment_id = $1`, enrollmentID)
	rec, err := scanEnrollment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *enrollmentStore) Delete(ctx context.Context, enrollmentID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM enrollments WHERE enrollment_id = $1`, enrollmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *enrollmentStore) ListByUser(ctx context.Context, userID string) ([]*store.EnrollmentRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT enrollment_id, method, user_id, encrypted_ms, ms_iv, ms_aad, ms_version,
			alg_version, kcv, kdf_salt, kdf_iterations, platform_hash, last_calibrated,
			credential_id, rp_id, app_salt, hkdf_salt, pepper_wrapped, created_at, updated_at
		FROM enrollments WHERE user_id = $1 ORDER BY enrollment_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnrollments(rows)
}

func (s *enrollmentStore) ListByMethod(ctx context.Context, userID, method string) ([]*store.EnrollmentRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT enrollment_id, method, user_id, encrypted_ms, ms_iv, ms_aad, ms_version,
			alg_version, kcv, kdf_salt, kdf_iterations, platform_hash, last_calibrated,
			credential_id, rp_id, app_salt, hkdf_salt, pepper_wrapped, created_at, updated_at
		FROM enrollments WHERE user_id = $1 AND method = $2 ORDER BY enrollment_id`, userID, method)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnrollments(rows)
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query),
// letting scanEnrollment serve both Get and the List* methods.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*store.EnrollmentRecord, error) {
	rec := &store.EnrollmentRecord{}
	err := row.Scan(
		&rec.EnrollmentID, &rec.Method, &rec.UserID, &rec.EncryptedMS, &rec.MSIV, &rec.MSAAD, &rec.MSVersion,
		&rec.AlgVersion, &rec.KCV, &rec.KDFSalt, &rec.KDFIterations, &rec.PlatformHash, &rec.LastCalibrated,
		&rec.CredentialID, &rec.RPID, &rec.AppSalt, &rec.HKDFSalt, &rec.PepperWrapped, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanEnrollments(rows pgx.Rows) ([]*store.EnrollmentRecord, error) {
	var out []*store.EnrollmentRecord
	for rows.Next() {
		rec, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
