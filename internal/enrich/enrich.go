// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package enrich backfills the enrichment foreign keys of location points
// from external APIs.
//
// A Manager runs a fixed, ordered list of enrichers once per cycle. Each
// enricher runs inside its own transaction: a failure rolls back that
// enricher's writes, is logged, and never stops the enrichers after it.
package enrich

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/logging"
	"github.com/tomtom215/waymark/internal/metrics"
	"github.com/tomtom215/waymark/internal/objectstore"
	"github.com/tomtom215/waymark/internal/providers/nominatim"
	"github.com/tomtom215/waymark/internal/providers/openmeteo"
)

// Enricher is one enrichment worker.
type Enricher interface {
	Name() string
	Enabled() bool
	// Enrich does all its writes through tx.
	Enrich(ctx context.Context, tx *sql.Tx) error
}

// Errors returned by Manager lifecycle methods.
var (
	ErrAlreadyRunning = errors.New("enrichment manager is already running")
	ErrNotRunning     = errors.New("enrichment manager is not running")
	ErrRunPending     = errors.New("an enrichment run is already pending")
)

// CycleResult is the outcome of one enricher within a cycle.
type CycleResult struct {
	Enricher string
	Skipped  bool
	Duration time.Duration
	Err      error
}

// Manager schedules the enrichers.
type Manager struct {
	db        *database.DB
	enrichers []Enricher

	runMu sync.Mutex // serializes cycles

	mu       sync.Mutex
	loops    int // active schedule loops
	trigger  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a manager running enrichers in the given order.
func NewManager(db *database.DB, enrichers ...Enricher) *Manager {
	return &Manager{db: db, enrichers: enrichers, trigger: make(chan struct{}, 1)}
}

// NewStandardEnrichers returns the four workers in their fixed run order.
func NewStandardEnrichers(cfg *config.Config, geocoder *nominatim.Client, weather *openmeteo.Client, store objectstore.Store) []Enricher {
	return []Enricher{
		NewReverseGeocodeEnricher(cfg, geocoder, store),
		NewHourlyWeatherEnricher(cfg, weather, store),
		NewDailyWeatherEnricher(cfg, weather, store),
		NewTimezoneEnricher(cfg, weather, store),
	}
}

// Enrichers returns the configured enrichers in run order.
func (m *Manager) Enrichers() []Enricher {
	return m.enrichers
}

// RunOnce runs every enabled enricher once, in order.
func (m *Manager) RunOnce(ctx context.Context) []CycleResult {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	ctx = logging.ContextWithNewCorrelationID(ctx)
	results := make([]CycleResult, 0, len(m.enrichers))
	for _, e := range m.enrichers {
		if ctx.Err() != nil {
			break
		}
		if !e.Enabled() {
			results = append(results, CycleResult{Enricher: e.Name(), Skipped: true})
			continue
		}
		results = append(results, m.runInTx(ctx, e))
	}
	return results
}

// runInTx runs one enricher in its own transaction and swallows its error
// after logging it.
func (m *Manager) runInTx(ctx context.Context, e Enricher) CycleResult {
	start := time.Now()
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		return e.Enrich(ctx, tx)
	})
	res := CycleResult{Enricher: e.Name(), Duration: time.Since(start), Err: err}
	metrics.RecordEnrichmentCycle(e.Name(), res.Duration, err)

	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("enricher", e.Name()).
			Dur("elapsed", res.Duration).
			Msg("Enrichment cycle failed, rolled back")
	}
	return res
}

// Schedule runs a cycle, waits interval, and repeats until ctx is done. The
// wait starts when a cycle finishes; Trigger cuts it short.
func (m *Manager) Schedule(ctx context.Context, interval time.Duration) error {
	return m.schedule(ctx, interval, nil)
}

func (m *Manager) schedule(ctx context.Context, interval time.Duration, stop <-chan struct{}) error {
	m.mu.Lock()
	m.loops++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loops--
		m.mu.Unlock()
	}()

	for {
		m.RunOnce(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-stop:
			timer.Stop()
			return nil
		case <-m.trigger:
			timer.Stop()
			logging.Ctx(ctx).Info().Msg("Enrichment run triggered")
		case <-timer.C:
		}
	}
}

// Trigger asks a running schedule loop to start its next cycle now. At most
// one trigger is queued.
func (m *Manager) Trigger() error {
	m.mu.Lock()
	loops := m.loops
	m.mu.Unlock()
	if loops == 0 {
		return ErrNotRunning
	}

	select {
	case m.trigger <- struct{}{}:
		return nil
	default:
		return ErrRunPending
	}
}

// Start runs the schedule loop in the background until Stop or ctx
// cancellation.
func (m *Manager) Start(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	if m.stopChan != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	stop := make(chan struct{})
	m.stopChan = stop
	m.mu.Unlock()

	logging.Info().Dur("interval", interval).Int("enrichers", len(m.enrichers)).Msg("Starting enrichment manager")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.schedule(ctx, interval, stop); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Enrichment schedule stopped")
		}
	}()
	return nil
}

// Stop ends the background loop after the current cycle and waits for it.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopChan == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	close(m.stopChan)
	m.stopChan = nil
	m.mu.Unlock()

	logging.Info().Msg("Stopping enrichment manager...")
	m.wg.Wait()
	logging.Info().Msg("Enrichment manager stopped")
	return nil
}
