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
	// JWTsSigned tracks ES256 VAPID JWTs issued via signJWT
	JWTsSigned = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "signed_total",
			Help:      "Total number of VAPID JWTs signed",
		},
		[]string{"status"}, // success, failure
	)

	// JTIReplaysDetected tracks jti values rejected by a lease's replay window
	JTIReplaysDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "jti_replays_detected_total",
			Help:      "Total number of jti values rejected as replays",
		},
	)

	// JTIValidations tracks every jti admitted into a lease's replay window
	JTIValidations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "jti_validations_total",
			Help:      "Total number of jti replay-window checks",
		},
		[]string{"status"}, // fresh, replay
	)

	// JWTSignDuration tracks signJWT latency
	JWTSignDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "sign_duration_seconds",
			Help:      "VAPID JWT signing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 205ms
		},
	)
)
