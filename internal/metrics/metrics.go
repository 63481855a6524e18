// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package metrics holds the Prometheus collectors Waymark exports on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Import outcomes.
const (
	OutcomeImported = "imported"
	OutcomeNoData   = "no_data"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
)

var (
	// Ledger
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_import_runs_total",
			Help: "Import driver runs by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ImportedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_imported_rows_total",
			Help: "Rows committed by import runs",
		},
		[]string{"source"},
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waymark_import_duration_seconds",
			Help:    "Wall time of import runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"source"},
	)

	// Spatiotemporal cache
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_cache_hits_total",
			Help: "Cache lookups answered from the object store",
		},
		[]string{"provider"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_cache_misses_total",
			Help: "Cache lookups with no matching entry",
		},
		[]string{"provider"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_cache_errors_total",
			Help: "Cache storage faults, each reported to the caller as a miss",
		},
		[]string{"provider", "op"},
	)

	// External APIs
	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_api_calls_total",
			Help: "Calls to external enrichment APIs by outcome",
		},
		[]string{"provider", "outcome"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waymark_api_call_duration_seconds",
			Help:    "Latency of external enrichment API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waymark_circuit_breaker_state",
			Help: "Breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_circuit_breaker_transitions_total",
			Help: "Breaker state transitions per provider",
		},
		[]string{"provider", "from", "to"},
	)

	// Enrichment
	EnrichmentCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waymark_enrichment_cycle_duration_seconds",
			Help:    "Wall time of one enricher pass",
			Buckets: []float64{0.1, 1, 5, 30, 60, 120, 300, 600},
		},
		[]string{"enricher", "outcome"},
	)

	EnrichedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_enriched_rows_total",
			Help: "Rows whose enrichment key was filled, by how it was filled",
		},
		[]string{"enricher", "via"}, // "api", "cache", "backfill"
	)

	DeadLetteredRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_dead_lettered_rows_total",
			Help: "Rows permanently excluded from enrichment",
		},
		[]string{"enricher"},
	)

	EnrichmentQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waymark_enrichment_queue_depth",
			Help: "Rows still pending per enricher after its last pass",
		},
		[]string{"enricher"},
	)

	// Admin server
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_http_requests_total",
			Help: "Admin API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waymark_http_request_duration_seconds",
			Help:    "Admin API request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waymark_http_active_requests",
			Help: "Admin API requests in flight",
		},
	)
)

// RecordImport records one import driver run.
func RecordImport(source, outcome string, rows int64, duration time.Duration) {
	ImportRuns.WithLabelValues(source, outcome).Inc()
	if rows > 0 {
		ImportedRows.WithLabelValues(source).Add(float64(rows))
	}
	if outcome != OutcomeNoData {
		ImportDuration.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// RecordAPICall records one external API call.
func RecordAPICall(provider, outcome string, duration time.Duration) {
	APICalls.WithLabelValues(provider, outcome).Inc()
	APICallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEnrichmentCycle records one enricher pass.
func RecordEnrichmentCycle(enricher string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	EnrichmentCycleDuration.WithLabelValues(enricher, outcome).Observe(duration.Seconds())
}

// RecordHTTPRequest records one admin API request. route is the matched
// route pattern, never the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
