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

package unlockctx

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sage-x-project/ats-kms/audit"
	"github.com/sage-x-project/ats-kms/internal/kmserr"
	"github.com/sage-x-project/ats-kms/internal/metrics"
)

// Manager holds at most one active Context per userId, created at worker
// boot and destroyed at worker tear-down — the only process-wide mutable
// state besides the lease table (spec.md §5, "global mutable state").
type Manager struct {
	mu       sync.RWMutex
	contexts map[string]*Context

	sf singleflight.Group

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewManager starts a Manager with a background reaper that zeroizes and
// evicts expired contexts every 30 seconds.
func NewManager() *Manager {
	m := &Manager{
		contexts:      make(map[string]*Context),
		cleanupTicker: time.NewTicker(30 * time.Second),
		stopCleanup:   make(chan struct{}),
	}
	go m.runCleanup()
	return m
}

// UnlockFunc performs the actual unlock (mastersecret.Manager.Unlock plus
// MKEK derivation plus UAK unwrap), returning the material to install into
// a fresh Context.
type UnlockFunc func(ctx context.Context, userID string) (ms, mkek []byte, uakSigner audit.Signer, uakKeyPair *audit.KeyPair, err error)

// GetOrUnlock returns the active Context for userId if one is live,
// extending its TTL; otherwise it runs fn exactly once even under
// concurrent callers (via singleflight, keyed by userId) and installs the
// result as the new Context.
func (m *Manager) GetOrUnlock(ctx context.Context, userID string, fn UnlockFunc) (*Context, error) {
	now := time.Now().UTC()

	m.mu.RLock()
	existing, ok := m.contexts[userID]
	m.mu.RUnlock()
	if ok && !existing.isExpired(now) {
		m.mu.Lock()
		existing.extend(now)
		m.mu.Unlock()
		return existing, nil
	}

	v, err, shared := m.sf.Do(userID, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.contexts[userID]
		m.mu.RUnlock()
		if ok && !existing.isExpired(time.Now().UTC()) {
			return existing, nil
		}

		ms, mkek, uakSigner, uakKeyPair, err := fn(ctx, userID)
		if err != nil {
			return nil, err
		}
		created := time.Now().UTC()
		c := &Context{
			userID:         userID,
			ms:             ms,
			mkek:           mkek,
			uakSigner:      uakSigner,
			uakKeyPair:     uakKeyPair,
			createdAt:      created,
			lastActivityAt: created,
		}
		c.extend(created)

		m.mu.Lock()
		if prior, ok := m.contexts[userID]; ok {
			prior.zeroize()
		}
		m.contexts[userID] = c
		m.mu.Unlock()
		metrics.UnlockContextsActive.Inc()
		return c, nil
	})
	if shared {
		metrics.UnlocksDeduped.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

// Touch extends the TTL of an already-unlocked context, used after every
// audited operation.
func (m *Manager) Touch(userID string) error {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[userID]
	if !ok || c.isExpired(now) {
		return kmserr.New(kmserr.NotUnlocked, "no active unlock context")
	}
	c.extend(now)
	return nil
}

// Get returns the active context for userId without extending its TTL, or
// NOT_UNLOCKED if none is live.
func (m *Manager) Get(userID string) (*Context, error) {
	now := time.Now().UTC()
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[userID]
	if !ok || c.isExpired(now) {
		return nil, kmserr.New(kmserr.NotUnlocked, "no active unlock context")
	}
	return c, nil
}

// Destroy evicts and zeroizes userId's context immediately, used on fatal
// tampering errors (MS_AUTH_FAILED, AUDIT_CHAIN_BROKEN).
func (m *Manager) Destroy(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contexts[userID]; ok {
		c.zeroize()
		delete(m.contexts, userID)
		metrics.UnlockContextsActive.Dec()
	}
}

// Close stops the background reaper and zeroizes every live context.
func (m *Manager) Close() {
	close(m.stopCleanup)
	m.cleanupTicker.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.contexts {
		c.zeroize()
		delete(m.contexts, id)
	}
}

func (m *Manager) runCleanup() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.reapExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) reapExpired() {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.contexts {
		if c.isExpired(now) {
			reason := "idle_ttl"
			if !now.Before(c.createdAt.Add(HardCap)) {
				reason = "hard_cap"
			}
			c.zeroize()
			delete(m.contexts, id)
			metrics.UnlockContextsActive.Dec()
			metrics.UnlockContextsReaped.WithLabelValues(reason).Inc()
		}
	}
}
