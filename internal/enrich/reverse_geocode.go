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
	"github.com/tomtom215/waymark/internal/providers/nominatim"
)

// ReverseGeocodeEnricher fills location_points.place_detail_id.
//
// Results are cached per grid cell, and one lookup also fills every pending
// point in the same cell within the cache window.
type ReverseGeocodeEnricher struct {
	cfg           config.WorkerConfig
	policy        config.CachePolicy
	dedupKm       float64
	progressEvery time.Duration

	client *nominatim.Client
	cache  *geocache.Cache[nominatim.Request, nominatim.Place]
	pacer  *Pacer
}

// NewReverseGeocodeEnricher wires the worker from configuration.
func NewReverseGeocodeEnricher(cfg *config.Config, client *nominatim.Client, store objectstore.Store) *ReverseGeocodeEnricher {
	policy := cfg.Cache.ReverseGeocode
	cache := geocache.NewTimeWindowed[nominatim.Request, nominatim.Place](store, geocache.Options{
		Provider: nominatim.ProviderName,
		Bucket:   cfg.ObjectStore.Bucket,
		Window:   policy.Window,
	}, func(r nominatim.Request) any {
		return nominatim.KeyParams(r, policy.CellSizeKm)
	})
	return &ReverseGeocodeEnricher{
		cfg:           cfg.Enrichment.ReverseGeocode,
		policy:        policy,
		dedupKm:       cfg.Enrichment.PlaceDedupRadiusKm,
		progressEvery: cfg.Enrichment.ProgressInterval,
		client:        client,
		cache:         cache,
		pacer:         NewPacer(cfg.Enrichment.ReverseGeocode.APICallsDelay),
	}
}

func (e *ReverseGeocodeEnricher) Name() string  { return "reverse_geocode" }
func (e *ReverseGeocodeEnricher) Enabled() bool { return e.cfg.Enabled }

// Enrich drains the place queue.
func (e *ReverseGeocodeEnricher) Enrich(ctx context.Context, tx *sql.Tx) error {
	s := NewSession(ctx, SessionOptions{
		Enricher:      e.Name(),
		Target:        database.TargetPlace,
		BatchSize:     e.cfg.BatchSize,
		MaxSession:    e.cfg.MaxSession,
		ProgressEvery: e.progressEvery,
		Pacer:         e.pacer,
	})
	return s.Drain(ctx, tx, func(ctx context.Context, tx *sql.Tx, p models.PendingPoint) (int64, error) {
		return e.enrichPoint(ctx, tx, s, p)
	})
}

func (e *ReverseGeocodeEnricher) enrichPoint(ctx context.Context, tx *sql.Tx, s *Session, p models.PendingPoint) (int64, error) {
	req := e.client.Request(p.Latitude, p.Longitude)

	via := "cache"
	place, hit := e.cache.Get(ctx, tx, req, p.RecordedAt, nil)
	if hit {
		s.Hit()
	} else {
		via = "api"
		var fetched *nominatim.Place
		err := s.Call(ctx, func(ctx context.Context) error {
			var err error
			fetched, err = e.client.Reverse(ctx, req)
			return err
		})
		if unusable(err) {
			return 0, s.DeadLetter(ctx, tx, p, err)
		}
		if err != nil {
			return 0, err
		}
		place = *fetched
		if err := e.cache.Set(ctx, tx, req, place, p.RecordedAt, nil, time.Now()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache reverse geocode result")
		}
	}

	placeID, _, err := database.FindOrInsertPlaceDetail(ctx, tx, place.Detail(), e.dedupKm)
	if err != nil {
		return 0, err
	}
	if err := database.SetPointTarget(ctx, tx, database.TargetPlace, p.ID, placeID); err != nil {
		return 0, err
	}

	cell := geo.CellOf(geo.Point{Lat: p.Latitude, Lon: p.Longitude}, e.policy.CellSizeKm)
	n, err := database.BackfillCell(ctx, tx, database.TargetPlace, placeID, cell, e.policy.CellSizeKm,
		p.RecordedAt.Add(-e.policy.Window), p.RecordedAt.Add(e.policy.Window))
	if err != nil {
		return 0, err
	}
	s.Enriched(via, n)
	return n, nil
}
