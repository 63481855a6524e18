// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/logging"
	"github.com/tomtom215/waymark/internal/metrics"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/providers/httpclient"
)

// Pacer enforces a minimum gap between consecutive network calls of one
// worker. It outlives sessions, so the gap also holds across cycles.
//
// The limiter spaces reservations; last pins the gap to the moment the
// previous Wait actually returned, so a late wakeup never shortens the next
// gap.
type Pacer struct {
	limiter *rate.Limiter
	delay   time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewPacer creates a pacer allowing one call per delay. A zero delay never
// waits.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1), delay: delay}
}

// Wait blocks until the next call may start.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.delay <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() {
		for {
			remaining := p.delay - time.Since(p.last)
			if remaining <= 0 {
				break
			}
			if err := sleepCtx(ctx, remaining); err != nil {
				return err
			}
		}
	}
	p.last = time.Now()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Counters are the per-session tallies reported in progress logs.
type Counters struct {
	Processed    int64
	CacheHits    int64
	APICalls     int64
	Backfilled   int64
	DeadLettered int64
}

// Session is one bounded pass of a worker over its queue.
type Session struct {
	enricher      string
	target        database.Target
	batchSize     int
	maxSession    time.Duration
	progressEvery time.Duration
	pacer         *Pacer

	start        time.Time
	lastProgress time.Time
	log          zerolog.Logger
	Counters
}

// SessionOptions configures a session.
type SessionOptions struct {
	Enricher      string
	Target        database.Target
	BatchSize     int
	MaxSession    time.Duration
	ProgressEvery time.Duration
	Pacer         *Pacer
}

// NewSession starts the session clock.
func NewSession(ctx context.Context, opts SessionOptions) *Session {
	now := time.Now()
	return &Session{
		enricher:      opts.Enricher,
		target:        opts.Target,
		batchSize:     max(opts.BatchSize, 1),
		maxSession:    opts.MaxSession,
		progressEvery: opts.ProgressEvery,
		pacer:         opts.Pacer,
		start:         now,
		lastProgress:  now,
		log:           logging.Ctx(ctx).With().Str("enricher", opts.Enricher).Logger(),
	}
}

// Expired reports whether the session ran past its cap.
func (s *Session) Expired() bool {
	return s.maxSession > 0 && time.Since(s.start) >= s.maxSession
}

// Elapsed is the time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Call paces and runs one network call.
func (s *Session) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("wait for pacer: %w", err)
	}
	s.APICalls++
	return fn(ctx)
}

// Hit records a cache hit.
func (s *Session) Hit() {
	s.CacheHits++
}

// Enriched records a row filled via cache or api.
func (s *Session) Enriched(via string, backfilled int64) {
	metrics.EnrichedRows.WithLabelValues(s.enricher, via).Inc()
	if backfilled > 0 {
		s.Backfilled += backfilled
		metrics.EnrichedRows.WithLabelValues(s.enricher, "backfill").Add(float64(backfilled))
	}
}

// DeadLetter flags a row as permanently failed for the session's target.
func (s *Session) DeadLetter(ctx context.Context, tx *sql.Tx, p models.PendingPoint, cause error) error {
	if err := database.MarkPointFailed(ctx, tx, s.target, p.ID); err != nil {
		return err
	}
	s.DeadLettered++
	metrics.DeadLetteredRows.WithLabelValues(s.enricher).Inc()
	s.log.Warn().Err(cause).
		Int64("point_id", p.ID).
		Time("recorded_at", p.RecordedAt).
		Msg("Unusable response, row dead-lettered")
	return nil
}

// itemFunc handles one queued point and returns how many other points it
// filled as a side effect.
type itemFunc func(ctx context.Context, tx *sql.Tx, p models.PendingPoint) (backfilled int64, err error)

// Drain pages through the target's queue in (recorded_at, id) order until it
// is empty or the session expires. A page is refetched from the current
// position whenever an item backfilled other rows, so those rows are not
// visited again.
func (s *Session) Drain(ctx context.Context, tx *sql.Tx, fn itemFunc) error {
	pending, err := database.CountPending(ctx, tx, s.target)
	if err != nil {
		return err
	}
	metrics.EnrichmentQueueDepth.WithLabelValues(s.enricher).Set(float64(pending))
	if pending == 0 {
		s.log.Info().Msg("Queue empty")
		return nil
	}
	s.log.Info().Int64("pending", pending).Msg("Enrichment session started")

	var cursor *database.QueueCursor
	for {
		page, err := database.PendingPoints(ctx, tx, s.target, cursor, s.batchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			s.finish("queue empty")
			return nil
		}

		for _, p := range page {
			if s.Expired() {
				s.finish("session cap reached")
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			n, err := fn(ctx, tx, p)
			if err != nil {
				return fmt.Errorf("point %d: %w", p.ID, err)
			}
			s.Processed++
			cursor = &database.QueueCursor{RecordedAt: p.RecordedAt, ID: p.ID}
			s.progress()
			if n > 0 {
				break
			}
		}
	}
}

// unusable reports whether err dead-letters the row rather than failing the
// cycle.
func unusable(err error) bool {
	return errors.Is(err, httpclient.ErrUnusableResponse)
}

func (s *Session) progress() {
	if s.progressEvery <= 0 || time.Since(s.lastProgress) < s.progressEvery {
		return
	}
	s.lastProgress = time.Now()
	s.logCounters(s.log.Info()).Msg("Enrichment progress")
}

func (s *Session) finish(reason string) {
	s.logCounters(s.log.Info()).Str("reason", reason).Msg("Enrichment session finished")
}

func (s *Session) logCounters(ev *zerolog.Event) *zerolog.Event {
	elapsed := s.Elapsed()
	perSec := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		perSec = float64(s.Processed+s.Backfilled) / secs
	}
	return ev.
		Int64("processed", s.Processed).
		Int64("cache_hits", s.CacheHits).
		Int64("api_calls", s.APICalls).
		Int64("backfilled", s.Backfilled).
		Int64("dead_lettered", s.DeadLettered).
		Float64("rows_per_second", perSec).
		Dur("elapsed", elapsed)
}
