// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/waymark/internal/logging"
)

// Scheduler is a periodic loop that runs until ctx is done. Both
// *ledger.Driver and *enrich.Manager satisfy it.
type Scheduler interface {
	Schedule(ctx context.Context, interval time.Duration) error
}

// LedgerService runs the import driver loop.
type LedgerService struct {
	loop scheduleLoop
}

// NewLedgerService wraps the import driver.
func NewLedgerService(driver Scheduler, interval time.Duration) *LedgerService {
	return &LedgerService{loop: scheduleLoop{name: "ledger", sched: driver, interval: interval}}
}

// Serve implements suture.Service.
func (s *LedgerService) Serve(ctx context.Context) error { return s.loop.serve(ctx) }

func (s *LedgerService) String() string { return s.loop.name }

// EnrichmentService runs the enrichment manager's schedule loop. While it
// runs, the manager accepts out-of-band triggers.
type EnrichmentService struct {
	loop scheduleLoop
}

// NewEnrichmentService wraps the enrichment manager.
func NewEnrichmentService(manager Scheduler, interval time.Duration) *EnrichmentService {
	return &EnrichmentService{loop: scheduleLoop{name: "enrichment", sched: manager, interval: interval}}
}

// Serve implements suture.Service.
func (s *EnrichmentService) Serve(ctx context.Context) error { return s.loop.serve(ctx) }

func (s *EnrichmentService) String() string { return s.loop.name }

type scheduleLoop struct {
	name     string
	sched    Scheduler
	interval time.Duration
}

func (l scheduleLoop) serve(ctx context.Context) error {
	log := logging.WithComponent(l.name)
	log.Info().Dur("interval", l.interval).Msg("Loop started")

	err := l.sched.Schedule(ctx, l.interval)
	if ctx.Err() != nil {
		log.Info().Msg("Loop stopped")
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("schedule returned before shutdown")
	}
	return fmt.Errorf("%s loop: %w", l.name, err)
}
