// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package metrics defines the Prometheus instrumentation for Collabd:
// room/connection population, relay throughput, chat gateway outcomes,
// awareness churn, and AI upstream health. Everything is registered via
// promauto on the default registry and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Room & connection population

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabd_rooms_active",
			Help: "Current number of rooms with at least one connected client",
		},
	)

	ClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabd_clients_connected",
			Help: "Current number of connected websocket clients",
		},
	)

	// Sync relay

	SyncUpdatesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabd_sync_updates_relayed_total",
			Help: "Total CRDT updates applied server-side and broadcast to room peers",
		},
	)

	SyncUpdateBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collabd_sync_update_bytes",
			Help:    "Size distribution of relayed CRDT updates in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabd_frames_dropped_total",
			Help: "Total inbound frames dropped without forwarding",
		},
		[]string{"lane", "reason"}, // reason: malformed, unknown_lane, no_room, oversized
	)

	SlowConsumerDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabd_slow_consumer_disconnects_total",
			Help: "Total clients disconnected for exceeding their outbound backlog",
		},
	)

	// Awareness

	AwarenessUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabd_awareness_updates_total",
			Help: "Total awareness upserts broadcast to room peers",
		},
	)

	AwarenessExpiries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabd_awareness_expiries_total",
			Help: "Total awareness entries removed by TTL sweep",
		},
	)

	// Chat gateway

	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabd_chat_messages_total",
			Help: "Total chat submissions by outcome",
		},
		[]string{"result"}, // accepted, or the specific rejection reason
	)

	// AI analysis upstream

	AIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabd_ai_requests_total",
			Help: "Total AI service calls by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: ok, timeout, failed, not_configured, throttled, breaker_open
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collabd_ai_request_duration_seconds",
			Help:    "AI service call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"operation"},
	)

	// HTTP surface

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabd_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collabd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)
