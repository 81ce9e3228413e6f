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
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/ats-kms/store"
)

// auditStore implements store.AuditStore against "audit_entries" plus the
// single-row "counters" table tracking the chain head:
//
//	CREATE TABLE counters (
//	  instance_id   text PRIMARY KEY,
//	  seq_num       bigint NOT NULL,
//	  previous_hash bytea,
//	  ms_version    int NOT NULL
//	);
//
//	CREATE TABLE audit_entries (
//	  seq_num        bigint PRIMARY KEY,
//	  kms_version    int NOT NULL,
//	  "timestamp"    timestamptz NOT NULL,
//	  op             text NOT NULL,
//	  kid            text NOT NULL DEFAULT '',
//	  request_id     text NOT NULL DEFAULT '',
//	  user_id        text NOT NULL DEFAULT '',
//	  origin         text NOT NULL DEFAULT '',
//	  lease_id       text NOT NULL DEFAULT '',
//	  unlock_time    timestamptz,
//	  lock_time      timestamptz,
//	  duration_ms    bigint NOT NULL DEFAULT 0,
//	  details        jsonb,
//	  previous_hash  bytea NOT NULL,
//	  chain_hash     bytea NOT NULL,
//	  signer         text NOT NULL,
//	  signer_id      text NOT NULL,
//	  cert           bytea,
//	  sig            bytea NOT NULL,
//	  sig_new        bytea
//	);
//
// Every row in this package assumes a single KMS instance per database, so
// "counters" carries exactly one row, keyed by its one instance_id.
type auditStore struct {
	db *pgxpool.Pool
}

// ensureCounters seeds the counters row on first boot of a fresh database.
func (s *auditStore) ensureCounters(ctx context.Context, instanceID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO counters (instance_id, seq_num, previous_hash, ms_version)
		VALUES ($1, -1, NULL, 0)
		ON CONFLICT (instance_id) DO NOTHING`, instanceID)
	return err
}

func (s *auditStore) GetCounters(ctx context.Context) (*store.Counters, error) {
	row := s.db.QueryRow(ctx, `SELECT instance_id, seq_num, previous_hash, ms_version FROM counters LIMIT 1`)
	c := &store.Counters{}
	if err := row.Scan(&c.InstanceID, &c.SeqNum, &c.PreviousHash, &c.MSVersion); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *auditStore) AppendEntry(ctx context.Context, entry *store.AuditEntry, nextCounters *store.Counters) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_entries (
			seq_num, kms_version, "timestamp", op, kid, request_id, user_id, origin, lease_id,
			unlock_time, lock_time, duration_ms, details, previous_hash, chain_hash, signer,
			signer_id, cert, sig, sig_new
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		entry.SeqNum, entry.KmsVersion, entry.Timestamp, entry.Op, entry.Kid, entry.RequestID,
		entry.UserID, entry.Origin, entry.LeaseID, entry.UnlockTime, entry.LockTime, entry.DurationMs,
		details, entry.PreviousHash, entry.ChainHash, entry.Signer, entry.SignerID, entry.Cert,
		entry.Sig, entry.SigNew,
	); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE counters SET seq_num = $1, previous_hash = $2, ms_version = $3 WHERE instance_id = $4`,
		nextCounters.SeqNum, nextCounters.PreviousHash, nextCounters.MSVersion, nextCounters.InstanceID,
	); err != nil {
		return fmt.Errorf("failed to advance counters: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *auditStore) GetEntry(ctx context.Context, seqNum int64) (*store.AuditEntry, error) {
	row := s.db.QueryRow(ctx, auditEntrySelect+` WHERE seq_num = $1`, seqNum)
	entry, err := scanAuditEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *auditStore) ListSince(ctx context.Context, sinceSeq int64, limit int) ([]*store.AuditEntry, error) {
	query := auditEntrySelect + ` WHERE seq_num >= $1 ORDER BY seq_num`
	args := []any{sinceSeq}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *auditStore) Reset(ctx context.Context, instanceID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM audit_entries`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE counters SET seq_num = -1, previous_hash = NULL, ms_version = 0, instance_id = $1`,
		instanceID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const auditEntrySelect = `
	SELECT seq_num, kms_version, "timestamp", op, kid, request_id, user_id, origin, lease_id,
		unlock_time, lock_time, duration_ms, details, previous_hash, chain_hash, signer,
		signer_id, cert, sig, sig_new
	FROM audit_entries`

func scanAuditEntry(row rowScanner) (*store.AuditEntry, error) {
	entry := &store.AuditEntry{}
	var details []byte
	if err := row.Scan(
		&entry.SeqNum, &entry.KmsVersion, &entry.Timestamp, &entry.Op, &entry.Kid, &entry.RequestID,
		&entry.UserID, &entry.Origin, &entry.LeaseID, &entry.UnlockTime, &entry.LockTime, &entry.DurationMs,
		&details, &entry.PreviousHash, &entry.ChainHash, &entry.Signer, &entry.SignerID, &entry.Cert,
		&entry.Sig, &entry.SigNew,
	); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	return entry, nil
}
