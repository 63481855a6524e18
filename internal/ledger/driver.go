// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/logging"
	"github.com/tomtom215/waymark/internal/metrics"
	"github.com/tomtom215/waymark/internal/models"
)

// RunStats summarizes one Run.
type RunStats struct {
	Source   string
	Outcome  string // one of the metrics.Outcome* values
	JobID    int64  // zero unless committed
	Imported int64
	Duration time.Duration
	Err      error
}

// Driver runs sources under the ledger.
type Driver struct {
	db      *database.DB
	sources []Source
	mu      sync.Mutex
}

// NewDriver creates a driver for the given sources, run in order by RunAll.
func NewDriver(db *database.DB, sources ...Source) *Driver {
	return &Driver{db: db, sources: sources}
}

// Sources returns the configured sources.
func (d *Driver) Sources() []Source {
	return d.sources
}

// Run imports from one source. Failures are logged and reported in the
// returned stats, never returned to the caller's loop.
func (d *Driver) Run(ctx context.Context, src Source) RunStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	stats := RunStats{Source: src.Name()}
	log := logging.Ctx(ctx).With().Str("source", src.Name()).Logger()

	finish := func() RunStats {
		stats.Duration = time.Since(start)
		metrics.RecordImport(stats.Source, stats.Outcome, stats.Imported, stats.Duration)
		return stats
	}

	cursor, err := d.cursor(ctx, src.Name())
	if err != nil {
		stats.Outcome, stats.Err = metrics.OutcomeFailed, err
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Import failed")
		return finish()
	}

	avail, err := src.HasNewData(ctx, d.db.Conn(), cursor)
	if err != nil {
		stats.Outcome, stats.Err = metrics.OutcomeFailed, fmt.Errorf("check for new data: %w", err)
		log.Error().Err(stats.Err).Dur("elapsed", time.Since(start)).Msg("Import failed")
		return finish()
	}
	if !avail.HasData {
		stats.Outcome = metrics.OutcomeNoData
		log.Info().Msg("No new data")
		return finish()
	}

	ev := log.Info()
	if avail.EstimatedTotal != nil {
		ev = ev.Int64("estimated_total", *avail.EstimatedTotal)
	}
	if cursor != nil {
		ev = ev.Time("cursor", *cursor)
	}
	ev.Msg("Import started")

	err = d.db.WithTx(ctx, func(tx *sql.Tx) error {
		jobID, err := database.InsertImportJobPlaceholder(ctx, tx, src.Name(), src.DestinationTable(), src.EntryDateKey(), start)
		if err != nil {
			return err
		}

		res, err := src.Import(ctx, tx, ImportRequest{JobID: jobID, Cursor: cursor})
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if res.ImportedCount == 0 {
			return database.ErrRollback
		}

		job, err := finalJob(jobID, start, avail, res)
		if err != nil {
			return err
		}
		if err := database.FinalizeImportJob(ctx, tx, job); err != nil {
			return err
		}
		stats.JobID, stats.Imported = jobID, res.ImportedCount
		return nil
	})

	switch {
	case err != nil:
		stats.Outcome, stats.Err = metrics.OutcomeFailed, err
		stats.JobID, stats.Imported = 0, 0
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Import failed, rolled back")
	case stats.JobID == 0:
		stats.Outcome = metrics.OutcomeEmpty
		log.Info().Dur("elapsed", time.Since(start)).Msg("Import produced no rows, rolled back")
	default:
		stats.Outcome = metrics.OutcomeImported
		log.Info().
			Int64("job_id", stats.JobID).
			Int64("imported", stats.Imported).
			Dur("elapsed", time.Since(start)).
			Msg("Import committed")
	}
	return finish()
}

func (d *Driver) cursor(ctx context.Context, source string) (*time.Time, error) {
	latest, err := database.LatestImportJob(ctx, d.db.Conn(), source)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	c := latest.LastEntryDate
	return &c, nil
}

func finalJob(jobID int64, start time.Time, avail Availability, res ImportResult) (*models.ImportJob, error) {
	if res.FirstEntryDate == nil || res.LastEntryDate == nil {
		return nil, errors.New("source imported rows without reporting their date range")
	}
	return &models.ImportJob{
		ID:             jobID,
		JobStart:       start,
		JobEnd:         time.Now(),
		FirstEntryDate: *res.FirstEntryDate,
		LastEntryDate:  *res.LastEntryDate,
		ImportedCount:  res.ImportedCount,
		APICallsCount:  res.APICallsCount,
		APIVersion:     res.APIVersion,
		EstimatedTotal: avail.EstimatedTotal,
		Logs:           res.Logs,
	}, nil
}

// RunAll runs every source in order under one correlation id.
func (d *Driver) RunAll(ctx context.Context) []RunStats {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	out := make([]RunStats, 0, len(d.sources))
	for _, src := range d.sources {
		if ctx.Err() != nil {
			break
		}
		out = append(out, d.Run(ctx, src))
	}
	return out
}

// Schedule runs RunAll, waits interval, and repeats until ctx is done. The
// wait starts when a cycle finishes.
func (d *Driver) Schedule(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		d.RunAll(ctx)

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
