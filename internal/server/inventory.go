// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/providers/nominatim"
	"github.com/tomtom215/waymark/internal/providers/openmeteo"
)

var (
	statusTables = []string{"place_details", "hourly_weather", "daily_weather", "timezones"}

	statusTargets = []database.Target{
		database.TargetPlace,
		database.TargetHourlyWeather,
		database.TargetDailyWeather,
		database.TargetTimezone,
	}

	statusProviders = []string{
		nominatim.ProviderName,
		openmeteo.HourlyProvider,
		openmeteo.DailyProvider,
		openmeteo.TimezoneProvider,
	}
)

// StatusReport is the pipeline inventory served by /api/v1/status.
type StatusReport struct {
	SchemaVersion int              `json:"schema_version"`
	Points        int64            `json:"points"`
	Pending       map[string]int64 `json:"pending"`
	Targets       map[string]int64 `json:"targets"`
	ImportJobs    map[string]int64 `json:"import_jobs"`
	CacheEntries  map[string]int64 `json:"cache_entries"`
}

// Status reports how far ingestion and enrichment have progressed.
//
//	GET /api/v1/status
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	q := s.db.Conn()

	report, err := s.status(ctx, q)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to collect status", err)
		return
	}
	if report.SchemaVersion, err = s.db.SchemaVersion(ctx); err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to collect status", err)
		return
	}
	respondData(w, r, http.StatusOK, report, nil, started)
}

func (s *Server) status(ctx context.Context, q database.Querier) (*StatusReport, error) {
	report := &StatusReport{
		Pending:      make(map[string]int64, len(statusTargets)),
		Targets:      make(map[string]int64, len(statusTables)),
		ImportJobs:   make(map[string]int64, len(s.sources)),
		CacheEntries: make(map[string]int64, len(statusProviders)),
	}

	var err error
	if report.Points, err = database.CountPoints(ctx, q); err != nil {
		return nil, err
	}
	for _, t := range statusTargets {
		if report.Pending[t.Name], err = database.CountPending(ctx, q, t); err != nil {
			return nil, err
		}
	}
	for _, table := range statusTables {
		if report.Targets[table], err = database.CountRows(ctx, q, table); err != nil {
			return nil, err
		}
	}
	for _, src := range s.sources {
		if report.ImportJobs[src], err = database.CountImportJobs(ctx, q, src); err != nil {
			return nil, err
		}
	}
	for _, p := range statusProviders {
		if report.CacheEntries[p], err = database.CountCacheEntries(ctx, q, p); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// PointDetail is one location point with its resolved place and zone.
type PointDetail struct {
	Point    *models.LocationPoint `json:"point"`
	Place    *models.PlaceDetail   `json:"place,omitempty"`
	Timezone *models.TimezoneInfo  `json:"timezone,omitempty"`
}

// Point returns one location point and the enrichment rows it references.
//
//	GET /api/v1/points/42
func (s *Server) Point(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	q := s.db.Conn()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "id must be a positive integer", nil)
		return
	}

	p, err := database.GetPoint(ctx, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "no such point", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to load point", err)
		return
	}

	out := PointDetail{Point: p}
	if p.PlaceDetailID != nil {
		if out.Place, err = database.GetPlaceDetail(ctx, q, *p.PlaceDetailID); err != nil {
			respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to load place", err)
			return
		}
	}
	if p.TimezoneID != nil {
		if out.Timezone, err = database.GetTimezone(ctx, q, *p.TimezoneID); err != nil {
			respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to load timezone", err)
			return
		}
	}
	respondData(w, r, http.StatusOK, out, nil, started)
}
