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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnlocksInitiated tracks cold unlocks: it is counted when the unlock
	// function runs, not for live-context hits or deduplicated calls
	UnlocksInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "initiated_total",
			Help:      "Total number of unlock attempts",
		},
		[]string{"method"}, // passphrase, passkey-prf, passkey-gate
	)

	// UnlocksCompleted tracks unlock attempts that ran to completion
	UnlocksCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "completed_total",
			Help:      "Total number of completed unlock attempts",
		},
		[]string{"status"}, // success, failure
	)

	// UnlocksDeduped tracks unlock calls served by an in-flight singleflight
	// call instead of re-deriving the Master Secret.
	UnlocksDeduped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "deduped_total",
			Help:      "Total number of unlock calls served by an in-flight singleflight call",
		},
	)

	// UnlockContextsActive tracks currently unlocked in-memory contexts
	UnlockContextsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "contexts_active",
			Help:      "Number of currently unlocked in-memory contexts",
		},
	)

	// UnlockContextsReaped tracks contexts destroyed by TTL or hard-cap expiry
	UnlockContextsReaped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "contexts_reaped_total",
			Help:      "Total number of unlock contexts destroyed by the reaper",
		},
		[]string{"reason"}, // idle_ttl, hard_cap
	)

	// UnlockDuration tracks how long deriving MS/MKEK and the audit signer
	// and keypair took for a cold unlock.
	UnlockDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "duration_seconds",
			Help:      "Unlock derivation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to 2s
		},
		[]string{"method"},
	)
)
