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

// Package unlockctx holds the single in-memory Unlock Context per userId:
// the live Master Secret, its derived MKEK, and a signing handle for the
// user's audit key, all destroyed (zeroized) on TTL expiry.
package unlockctx

import (
	"time"

	"github.com/sage-x-project/ats-kms/audit"
)

const (
	// DefaultTTL is how long a freshly-created context lives without
	// further activity.
	DefaultTTL = 15 * time.Minute
	// HardCap bounds total context lifetime from creation, regardless of
	// activity.
	HardCap = 4 * time.Hour
)

// Context is the live unlock state for one user. ms and mkek are zeroized
// in place when the context expires; callers must not retain slices
// obtained from MS()/MKEK() past that point.
type Context struct {
	userID         string
	ms             []byte
	mkek           []byte
	uakSigner      audit.Signer
	uakKeyPair     *audit.KeyPair
	createdAt      time.Time
	expiresAt      time.Time
	lastActivityAt time.Time
}

// UserID returns the context's owning user.
func (c *Context) UserID() string { return c.userID }

// MS returns the live Master Secret. Do not retain beyond the current
// operation.
func (c *Context) MS() []byte { return c.ms }

// MKEK returns the derived Master Key-Encryption Key.
func (c *Context) MKEK() []byte { return c.mkek }

// UAKSigner returns the signing handle for this user's User Audit Key.
func (c *Context) UAKSigner() audit.Signer { return c.uakSigner }

// UAKKeyPair returns the raw User Audit Key pair, needed to issue LAK
// delegation certs at lease creation time.
func (c *Context) UAKKeyPair() *audit.KeyPair { return c.uakKeyPair }

// zeroize overwrites secret material in place so it does not linger in the
// heap after the context is evicted.
func (c *Context) zeroize() {
	for i := range c.ms {
		c.ms[i] = 0
	}
	for i := range c.mkek {
		c.mkek[i] = 0
	}
}

// extend pushes expiresAt out by DefaultTTL from now, never past the hard
// cap measured from createdAt.
func (c *Context) extend(now time.Time) {
	c.lastActivityAt = now
	next := now.Add(DefaultTTL)
	hardCap := c.createdAt.Add(HardCap)
	if next.After(hardCap) {
		next = hardCap
	}
	c.expiresAt = next
}

func (c *Context) isExpired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}
