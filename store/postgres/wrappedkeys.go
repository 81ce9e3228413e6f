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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/ats-kms/store"
)

// wrappedKeyStore implements store.WrappedKeyStore against the
// "wrapped_keys" table, with the push subscription flattened into the same
// row since it is 1:1 with a VAPID key:
//
//	CREATE TABLE wrapped_keys (
//	  kid                   text PRIMARY KEY,
//	  kms_version           int NOT NULL,
//	  wrapped_key           bytea NOT NULL,
//	  iv                    bytea NOT NULL,
//	  aad                   bytea NOT NULL,
//	  public_key_raw        bytea NOT NULL,
//	  alg                   text NOT NULL,
//	  purpose               text NOT NULL,
//	  key_type              text NOT NULL,
//	  created_at            timestamptz NOT NULL,
//	  last_used_at          timestamptz,
//	  sub_endpoint          text,
//	  sub_expiration_time   bigint,
//	  sub_p256dh            text,
//	  sub_auth              text,
//	  sub_eid               text,
//	  sub_created_at        timestamptz
//	);
type wrappedKeyStore struct {
	db *pgxpool.Pool
}

func (s *wrappedKeyStore) Put(ctx context.Context, key *store.WrappedKey) error {
	var subEndpoint, subP256dh, subAuth, subEid *string
	var subExp *int64
	var subCreatedAt *time.Time
	if sub := key.Subscription; sub != nil {
		subEndpoint, subP256dh, subAuth, subEid = &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.Eid
		subExp = sub.ExpirationTime
		subCreatedAt = &sub.CreatedAt
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO wrapped_keys (
			kid, kms_version, wrapped_key, iv, aad, public_key_raw, alg, purpose, key_type,
			created_at, last_used_at, sub_endpoint, sub_expiration_time, sub_p256dh, sub_auth,
			sub_eid, sub_created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (kid) DO UPDATE SET
			wrapped_key = EXCLUDED.wrapped_key, iv = EXCLUDED.iv, aad = EXCLUDED.aad,
			public_key_raw = EXCLUDED.public_key_raw, last_used_at = EXCLUDED.last_used_at,
			sub_endpoint = EXCLUDED.sub_endpoint, sub_expiration_time = EXCLUDED.sub_expiration_time,
			sub_p256dh = EXCLUDED.sub_p256dh, sub_auth = EXCLUDED.sub_auth, sub_eid = EXCLUDED.sub_eid,
			sub_created_at = EXCLUDED.sub_created_at`,
		key.Kid, key.KmsVersion, key.WrappedKey, key.IV, key.AAD, key.PublicKeyRaw, key.Alg, key.Purpose,
		key.KeyType, key.CreatedAt, key.LastUsedAt, subEndpoint, subExp, subP256dh, subAuth, subEid, subCreatedAt,
	)
	return err
}

func (s *wrappedKeyStore) Get(ctx context.Context, kid string) (*store.WrappedKey, error) {
	row := s.db.QueryRow(ctx, wrappedKeySelect+` WHERE kid = $1`, kid)
	key, err := scanWrappedKey(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

func (s *wrappedKeyStore) Delete(ctx context.Context, kid string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM wrapped_keys WHERE kid = $1`, kid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *wrappedKeyStore) ListByPurpose(ctx context.Context, purpose string) ([]*store.WrappedKey, error) {
	rows, err := s.db.Query(ctx, wrappedKeySelect+` WHERE purpose = $1 ORDER BY kid`, purpose)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.WrappedKey
	for rows.Next() {
		key, err := scanWrappedKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

const wrappedKeySelect = `
	SELECT kid, kms_version, wrapped_key, iv, aad, public_key_raw, alg, purpose, key_type,
		created_at, last_used_at, sub_endpoint, sub_expiration_time, sub_p256dh, sub_auth,
		sub_eid, sub_created_at
	FROM wrapped_keys`

func scanWrappedKey(row rowScanner) (*store.WrappedKey, error) {
	key := &store.WrappedKey{}
	var subEndpoint, subP256dh, subAuth, subEid *string
	var subExp *int64
	var subCreatedAt *time.Time

	err := row.Scan(
		&key.Kid, &key.KmsVersion, &key.WrappedKey, &key.IV, &key.AAD, &key.PublicKeyRaw, &key.Alg,
		&key.Purpose, &key.KeyType, &key.CreatedAt, &key.LastUsedAt, &subEndpoint, &subExp, &subP256dh,
		&subAuth, &subEid, &subCreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subEndpoint != nil {
		key.Subscription = &store.PushSubscription{
			Endpoint:       *subEndpoint,
			ExpirationTime: subExp,
			P256dh:         derefString(subP256dh),
			Auth:           derefString(subAuth),
			Eid:            derefString(subEid),
		}
		if subCreatedAt != nil {
			key.Subscription.CreatedAt = *subCreatedAt
		}
	}
	return key, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
