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

// Package postgres is the optional durable backend for store.Store, behind
// the same interface the in-memory backend satisfies.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/ats-kms/store"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store implements store.Store for PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	enrollments *enrollmentStore
	wrappedKeys *wrappedKeyStore
	audit       *auditStore
}

// NewStore opens a pool, verifies connectivity, and returns a ready Store.
// instanceID seeds the counters row if one does not already exist.
func NewStore(ctx context.Context, cfg *Config, instanceID string) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		pool:        pool,
		enrollments: &enrollmentStore{db: pool},
		wrappedKeys: &wrappedKeyStore{db: pool},
		audit:       &auditStore{db: pool},
	}
	if err := s.audit.ensureCounters(ctx, instanceID); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Enrollments() store.EnrollmentStore { return s.enrollments }
func (s *Store) WrappedKeys() store.WrappedKeyStore { return s.wrappedKeys }
func (s *Store) Audit() store.AuditStore            { return s.audit }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ResetAll truncates every object store atomically, for resetKMS.
func (s *Store) ResetAll(ctx context.Context, instanceID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"enrollments", "wrapped_keys", "audit_entries"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE counters SET seq_num = -1, previous_hash = NULL, ms_version = 0, instance_id = $1`,
		instanceID,
	); err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}

	return tx.Commit(ctx)
}
