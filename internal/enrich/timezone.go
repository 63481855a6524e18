// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package enrich

import (
	"context"
	"database/sql"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/geocache"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/objectstore"
	"github.com/tomtom215/waymark/internal/providers/openmeteo"
)

// maxCellBackfill bounds the neighbors resolved per lookup. Any rest are
// picked up later from the cache.
const maxCellBackfill = 1000

// TimezoneEnricher fills location_points.timezone_id.
//
// The zone is looked up once per grid cell; the offset and abbreviation are
// resolved per point because they change with daylight saving time.
type TimezoneEnricher struct {
	cfg           config.WorkerConfig
	policy        config.CachePolicy
	progressEvery time.Duration

	client *openmeteo.Client
	cache  *geocache.Cache[openmeteo.PointRequest, openmeteo.Zone]
	pacer  *Pacer
}

// NewTimezoneEnricher wires the worker from configuration.
func NewTimezoneEnricher(cfg *config.Config, client *openmeteo.Client, store objectstore.Store) *TimezoneEnricher {
	policy := cfg.Cache.Timezone
	return &TimezoneEnricher{
		cfg:           cfg.Enrichment.Timezone,
		policy:        policy,
		progressEvery: cfg.Enrichment.ProgressInterval,
		client:        client,
		cache: geocache.NewTimeWindowed[openmeteo.PointRequest, openmeteo.Zone](store, geocache.Options{
			Provider: openmeteo.TimezoneProvider,
			Bucket:   cfg.ObjectStore.Bucket,
			Window:   policy.Window,
		}, func(r openmeteo.PointRequest) any {
			return openmeteo.TimezoneKeyParams(r, policy.CellSizeKm)
		}),
		pacer: NewPacer(cfg.Enrichment.Timezone.APICallsDelay),
	}
}

func (e *TimezoneEnricher) Name() string  { return "timezone" }
func (e *TimezoneEnricher) Enabled() bool { return e.cfg.Enabled }

// Enrich drains the timezone queue.
func (e *TimezoneEnricher) Enrich(ctx context.Context, tx *sql.Tx) error {
	s := NewSession(ctx, SessionOptions{
		Enricher:      e.Name(),
		Target:        database.TargetTimezone,
		BatchSize:     e.cfg.BatchSize,
		MaxSession:    e.cfg.MaxSession,
		ProgressEvery: e.progressEvery,
		Pacer:         e.pacer,
	})
	return s.Drain(ctx, tx, func(ctx context.Context, tx *sql.Tx, p models.PendingPoint) (int64, error) {
		return e.enrichPoint(ctx, tx, s, p)
	})
}

func (e *TimezoneEnricher) enrichPoint(ctx context.Context, tx *sql.Tx, s *Session, p models.PendingPoint) (int64, error) {
	req := openmeteo.PointRequest{Lat: p.Latitude, Lon: p.Longitude}

	via := "cache"
	zone, hit := e.cache.Get(ctx, tx, req, p.RecordedAt, nil)
	if hit {
		s.Hit()
	} else {
		via = "api"
		var fetched *openmeteo.Zone
		err := s.Call(ctx, func(ctx context.Context) error {
			var err error
			fetched, err = e.client.Timezone(ctx, req)
			return err
		})
		if unusable(err) {
			return 0, s.DeadLetter(ctx, tx, p, err)
		}
		if err != nil {
			return 0, err
		}
		zone = *fetched
		if err := e.cache.Set(ctx, tx, req, zone, p.RecordedAt, nil, time.Now()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache timezone")
		}
	}

	cell := geo.CellOf(geo.Point{Lat: p.Latitude, Lon: p.Longitude}, e.policy.CellSizeKm)
	neighbors, err := database.PendingInCell(ctx, tx, database.TargetTimezone, cell, e.policy.CellSizeKm,
		p.RecordedAt.Add(-e.policy.Window), p.RecordedAt.Add(e.policy.Window), maxCellBackfill)
	if err != nil {
		return 0, err
	}

	assign := func(q models.PendingPoint) error {
		info := zone.At(q.RecordedAt)
		id, err := database.FindOrInsertTimezone(ctx, tx, &info)
		if err != nil {
			return err
		}
		return database.SetPointTarget(ctx, tx, database.TargetTimezone, q.ID, id)
	}

	var backfilled int64
	own := false
	for _, q := range neighbors {
		if err := assign(q); err != nil {
			return 0, err
		}
		if q.ID == p.ID {
			own = true
		} else {
			backfilled++
		}
	}
	if !own {
		if err := assign(p); err != nil {
			return 0, err
		}
	}
	s.Enriched(via, backfilled)
	return backfilled, nil
}
