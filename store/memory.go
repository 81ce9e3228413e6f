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

package store

import (
	"context"
	"sort"
	"sync"
)

// memoryStore implements Store entirely in-memory; it is the default
// backend and the one the core's tests run against.
type memoryStore struct {
	enrollments *memoryEnrollmentStore
	wrappedKeys *memoryWrappedKeyStore
	audit       *memoryAuditStore
}

// NewMemoryStore creates a new in-memory Store with an empty audit chain
// rooted at instanceID.
func NewMemoryStore(instanceID string) Store {
	return &memoryStore{
		enrollments: &memoryEnrollmentStore{records: make(map[string]*EnrollmentRecord)},
		wrappedKeys: &memoryWrappedKeyStore{keys: make(map[string]*WrappedKey)},
		audit: &memoryAuditStore{
			entries:  make(map[int64]*AuditEntry),
			counters: &Counters{SeqNum: -1, InstanceID: instanceID},
		},
	}
}

func (s *memoryStore) Enrollments() EnrollmentStore { return s.enrollments }
func (s *memoryStore) WrappedKeys() WrappedKeyStore { return s.wrappedKeys }
func (s *memoryStore) Audit() AuditStore            { return s.audit }
func (s *memoryStore) Close() error                 { return nil }

// ResetAll destroys every object store atomically, for resetKMS.
func (s *memoryStore) ResetAll(ctx context.Context, instanceID string) error {
	s.enrollments.mu.Lock()
	s.enrollments.records = make(map[string]*EnrollmentRecord)
	s.enrollments.mu.Unlock()

	s.wrappedKeys.mu.Lock()
	s.wrappedKeys.keys = make(map[string]*WrappedKey)
	s.wrappedKeys.mu.Unlock()

	return s.audit.Reset(ctx, instanceID)
}

type memoryEnrollmentStore struct {
	mu      sync.RWMutex
	records map[string]*EnrollmentRecord
}

func (s *memoryEnrollmentStore) Put(_ context.Context, rec *EnrollmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.EnrollmentID] = &cp
	return nil
}

func (s *memoryEnrollmentStore) Get(_ context.Context, enrollmentID string) (*EnrollmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[enrollmentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memoryEnrollmentStore) Delete(_ context.Context, enrollmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[enrollmentID]; !ok {
		return ErrNotFound
	}
	delete(s.records, enrollmentID)
	return nil
}

func (s *memoryEnrollmentStore) ListByUser(_ context.Context, userID string) ([]*EnrollmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EnrollmentRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrollmentID < out[j].EnrollmentID })
	return out, nil
}

func (s *memoryEnrollmentStore) ListByMethod(_ context.Context, userID, method string) ([]*EnrollmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EnrollmentRecord
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Method == method {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrollmentID < out[j].EnrollmentID })
	return out, nil
}

type memoryWrappedKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*WrappedKey
}

func (s *memoryWrappedKeyStore) Put(_ context.Context, key *WrappedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.Kid] = &cp
	return nil
}

func (s *memoryWrappedKeyStore) Get(_ context.Context, kid string) (*WrappedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[kid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *memoryWrappedKeyStore) Delete(_ context.Context, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[kid]; !ok {
		return ErrNotFound
	}
	delete(s.keys, kid)
	return nil
}

func (s *memoryWrappedKeyStore) ListByPurpose(_ context.Context, purpose string) ([]*WrappedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*WrappedKey
	for _, key := range s.keys {
		if key.Purpose == purpose {
			cp := *key
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kid < out[j].Kid })
	return out, nil
}

type memoryAuditStore struct {
	mu       sync.Mutex
	entries  map[int64]*AuditEntry
	counters *Counters
}

func (s *memoryAuditStore) GetCounters(_ context.Context) (*Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.counters
	return &cp, nil
}

func (s *memoryAuditStore) AppendEntry(_ context.Context, entry *AuditEntry, nextCounters *Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.SeqNum != s.counters.SeqNum+1 {
		return ErrAlreadyExists
	}
	cp := *entry
	s.entries[entry.SeqNum] = &cp
	ctCp := *nextCounters
	s.counters = &ctCp
	return nil
}

func (s *memoryAuditStore) GetEntry(_ context.Context, seqNum int64) (*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[seqNum]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memoryAuditStore) ListSince(_ context.Context, sinceSeq int64, limit int) ([]*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditEntry
	for seq := sinceSeq; seq <= s.counters.SeqNum; seq++ {
		if e, ok := s.entries[seq]; ok {
			cp := *e
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryAuditStore) Reset(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[int64]*AuditEntry)
	s.counters = &Counters{SeqNum: -1, InstanceID: instanceID}
	return nil
}
