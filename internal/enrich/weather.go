// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package enrich

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/geocache"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/objectstore"
	"github.com/tomtom215/waymark/internal/providers/openmeteo"
)

// justBefore closes half-open periods for BETWEEN predicates.
const justBefore = time.Microsecond

// HourlyWeatherEnricher fills location_points.hourly_weather_id.
//
// One archive call returns a whole UTC day, so every hour is stored and
// pending points near the request for each hour are filled at once.
type HourlyWeatherEnricher struct {
	cfg           config.WorkerConfig
	policy        config.CachePolicy
	progressEvery time.Duration

	client *openmeteo.Client
	cache  *geocache.Cache[openmeteo.DayRequest, openmeteo.HourlyDay]
	pacer  *Pacer
}

// NewHourlyWeatherEnricher wires the worker from configuration.
func NewHourlyWeatherEnricher(cfg *config.Config, client *openmeteo.Client, store objectstore.Store) *HourlyWeatherEnricher {
	policy := cfg.Cache.HourlyWeather
	return &HourlyWeatherEnricher{
		cfg:           cfg.Enrichment.HourlyWeather,
		policy:        policy,
		progressEvery: cfg.Enrichment.ProgressInterval,
		client:        client,
		cache: geocache.NewLocationWindowed[openmeteo.DayRequest, openmeteo.HourlyDay](store, geocache.Options{
			Provider: openmeteo.HourlyProvider,
			Bucket:   cfg.ObjectStore.Bucket,
			Window:   policy.Window,
			RadiusKm: policy.RadiusKm,
		}, openmeteo.HourlyKeyParams),
		pacer: NewPacer(cfg.Enrichment.HourlyWeather.APICallsDelay),
	}
}

func (e *HourlyWeatherEnricher) Name() string  { return "hourly_weather" }
func (e *HourlyWeatherEnricher) Enabled() bool { return e.cfg.Enabled }

// Enrich drains the hourly weather queue.
func (e *HourlyWeatherEnricher) Enrich(ctx context.Context, tx *sql.Tx) error {
	s := NewSession(ctx, SessionOptions{
		Enricher:      e.Name(),
		Target:        database.TargetHourlyWeather,
		BatchSize:     e.cfg.BatchSize,
		MaxSession:    e.cfg.MaxSession,
		ProgressEvery: e.progressEvery,
		Pacer:         e.pacer,
	})
	return s.Drain(ctx, tx, func(ctx context.Context, tx *sql.Tx, p models.PendingPoint) (int64, error) {
		return e.enrichPoint(ctx, tx, s, p)
	})
}

func (e *HourlyWeatherEnricher) enrichPoint(ctx context.Context, tx *sql.Tx, s *Session, p models.PendingPoint) (int64, error) {
	pt := geo.Point{Lat: p.Latitude, Lon: p.Longitude}
	req := openmeteo.NewDayRequest(p.Latitude, p.Longitude, p.RecordedAt)

	via := "cache"
	day, hit := e.cache.Get(ctx, tx, req, p.RecordedAt, &pt)
	// A window can straddle midnight; only the point's own day will do.
	if hit && day.Covers(p.RecordedAt) {
		s.Hit()
	} else {
		via = "api"
		var fetched *openmeteo.HourlyDay
		err := s.Call(ctx, func(ctx context.Context) error {
			var err error
			fetched, err = e.client.Hourly(ctx, req)
			return err
		})
		if unusable(err) {
			return 0, s.DeadLetter(ctx, tx, p, err)
		}
		if err != nil {
			return 0, err
		}
		day = *fetched
		if err := e.cache.Set(ctx, tx, req, day, p.RecordedAt, &pt, time.Now()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache hourly weather")
		}
	}

	own, ok := day.At(p.RecordedAt)
	if !ok {
		return 0, fmt.Errorf("hourly weather for %s has no observation at %s", day.Day.Format(time.DateOnly), p.RecordedAt)
	}

	var backfilled int64
	for i := range day.Hours {
		h := &day.Hours[i]
		id, err := database.FindOrInsertHourlyWeather(ctx, tx, h)
		if err != nil {
			return 0, err
		}
		if h.ObservedAt.Equal(own.ObservedAt) {
			if err := database.SetPointTarget(ctx, tx, database.TargetHourlyWeather, p.ID, id); err != nil {
				return 0, err
			}
		}
		n, err := database.BackfillNearby(ctx, tx, database.TargetHourlyWeather, id, pt, e.policy.RadiusKm,
			h.ObservedAt, h.ObservedAt.Add(time.Hour-justBefore))
		if err != nil {
			return 0, err
		}
		backfilled += n
	}
	s.Enriched(via, backfilled)
	return backfilled, nil
}

// DailyWeatherEnricher fills location_points.daily_weather_id.
type DailyWeatherEnricher struct {
	cfg           config.WorkerConfig
	policy        config.CachePolicy
	progressEvery time.Duration

	client *openmeteo.Client
	cache  *geocache.Cache[openmeteo.DayRequest, models.DailyWeather]
	pacer  *Pacer
}

// NewDailyWeatherEnricher wires the worker from configuration.
func NewDailyWeatherEnricher(cfg *config.Config, client *openmeteo.Client, store objectstore.Store) *DailyWeatherEnricher {
	policy := cfg.Cache.DailyWeather
	return &DailyWeatherEnricher{
		cfg:           cfg.Enrichment.DailyWeather,
		policy:        policy,
		progressEvery: cfg.Enrichment.ProgressInterval,
		client:        client,
		cache: geocache.NewLocationWindowed[openmeteo.DayRequest, models.DailyWeather](store, geocache.Options{
			Provider: openmeteo.DailyProvider,
			Bucket:   cfg.ObjectStore.Bucket,
			Window:   policy.Window,
			RadiusKm: policy.RadiusKm,
		}, openmeteo.DailyKeyParams),
		pacer: NewPacer(cfg.Enrichment.DailyWeather.APICallsDelay),
	}
}

func (e *DailyWeatherEnricher) Name() string  { return "daily_weather" }
func (e *DailyWeatherEnricher) Enabled() bool { return e.cfg.Enabled }

// Enrich drains the daily weather queue.
func (e *DailyWeatherEnricher) Enrich(ctx context.Context, tx *sql.Tx) error {
	s := NewSession(ctx, SessionOptions{
		Enricher:      e.Name(),
		Target:        database.TargetDailyWeather,
		BatchSize:     e.cfg.BatchSize,
		MaxSession:    e.cfg.MaxSession,
		ProgressEvery: e.progressEvery,
		Pacer:         e.pacer,
	})
	return s.Drain(ctx, tx, func(ctx context.Context, tx *sql.Tx, p models.PendingPoint) (int64, error) {
		return e.enrichPoint(ctx, tx, s, p)
	})
}

func (e *DailyWeatherEnricher) enrichPoint(ctx context.Context, tx *sql.Tx, s *Session, p models.PendingPoint) (int64, error) {
	pt := geo.Point{Lat: p.Latitude, Lon: p.Longitude}
	req := openmeteo.NewDayRequest(p.Latitude, p.Longitude, p.RecordedAt)

	via := "cache"
	w, hit := e.cache.Get(ctx, tx, req, p.RecordedAt, &pt)
	if hit && w.Day.UTC().Equal(req.Day) {
		s.Hit()
	} else {
		via = "api"
		var fetched *models.DailyWeather
		err := s.Call(ctx, func(ctx context.Context) error {
			var err error
			fetched, err = e.client.Daily(ctx, req)
			return err
		})
		if unusable(err) {
			return 0, s.DeadLetter(ctx, tx, p, err)
		}
		if err != nil {
			return 0, err
		}
		w = *fetched
		if err := e.cache.Set(ctx, tx, req, w, p.RecordedAt, &pt, time.Now()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache daily weather")
		}
	}

	id, err := database.FindOrInsertDailyWeather(ctx, tx, &w)
	if err != nil {
		return 0, err
	}
	if err := database.SetPointTarget(ctx, tx, database.TargetDailyWeather, p.ID, id); err != nil {
		return 0, err
	}
	n, err := database.BackfillNearby(ctx, tx, database.TargetDailyWeather, id, pt, e.policy.RadiusKm,
		req.Day, req.Day.Add(24*time.Hour-justBefore))
	if err != nil {
		return 0, err
	}
	s.Enriched(via, n)
	return n, nil
}
