// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/enrich"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/stays"
	"github.com/tomtom215/waymark/internal/validation"
)

const (
	defaultJobLimit = 50
	healthTimeout   = 2 * time.Second
)

// Stay views.
const (
	ViewIntervals = "intervals"
	ViewVisits    = "visits"
	ViewTimeline  = "timeline"
	ViewSummary   = "summary"
)

// Health pings the database.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "database unreachable", err)
		return
	}
	version, err := s.db.SchemaVersion(ctx)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "schema version unavailable", err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]any{"database": "ok", "schema_version": version}, nil, time.Time{})
}

type importJobsParams struct {
	Source string `query:"source" validate:"max=128"`
	Limit  int    `query:"limit" validate:"min=1,max=500"`
}

// ImportJobs lists committed import jobs, newest first.
//
//	GET /api/v1/import-jobs?source=csv-points&limit=20
func (s *Server) ImportJobs(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	q := r.URL.Query()

	params := importJobsParams{Source: q.Get("source"), Limit: defaultJobLimit}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, CodeValidation, "limit must be an integer", nil)
			return
		}
		params.Limit = n
	}
	if err := validation.Struct(&params); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}

	jobs, err := database.ListImportJobs(r.Context(), s.db.Conn(), params.Source, params.Limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to list import jobs", err)
		return
	}
	respondData(w, r, http.StatusOK, jobs, count(len(jobs)), started)
}

// TriggerEnrichment asks the scheduled enrichment loop for an extra cycle.
// The cycle runs on the loop's goroutine, serialized with scheduled ones.
func (s *Server) TriggerEnrichment(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "enrichment is disabled", nil)
		return
	}

	err := s.trigger.Trigger()
	switch {
	case err == nil:
		respondData(w, r, http.StatusAccepted, map[string]string{"run": "queued"}, nil, time.Time{})
	case errors.Is(err, enrich.ErrRunPending):
		respondError(w, r, http.StatusConflict, CodeConflict, "an enrichment run is already pending", nil)
	case errors.Is(err, enrich.ErrNotRunning):
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "enrichment loop is not running", nil)
	default:
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to trigger enrichment", err)
	}
}

type staysParams struct {
	Key         string        `query:"key" validate:"oneof=place city country"`
	View        string        `query:"view" validate:"oneof=intervals visits timeline summary"`
	MinDuration time.Duration `query:"min_duration" validate:"min=0"`
	From        *time.Time    `query:"from"`
	To          *time.Time    `query:"to"`
}

// Stays segments enriched points into stay intervals.
//
//	GET /api/v1/stays?key=city&from=2024-01-01T00:00:00Z&min_duration=30m&view=summary
//
// The default view returns every interval, NULL-keyed spans included.
// visits keeps keyed intervals of at least min_duration, timeline clips
// intervals to [from, to] and summary totals visits per place.
func (s *Server) Stays(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	params, msg := parseStaysParams(r, s.stays.MinDuration)
	if msg != "" {
		respondError(w, r, http.StatusBadRequest, CodeValidation, msg, nil)
		return
	}

	intervals, err := stays.Query(r.Context(), s.db.Conn(), database.StayQuery{
		Key:         models.PlaceKey(params.Key),
		MaxAccuracy: s.stays.MaxAccuracy,
		From:        params.From,
		To:          params.To,
		MinDuration: params.MinDuration,
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "failed to query stays", err)
		return
	}

	switch params.View {
	case ViewVisits:
		visits := stays.Visits(intervals, params.MinDuration)
		respondData(w, r, http.StatusOK, visits, count(len(visits)), started)
	case ViewTimeline:
		var from, to time.Time
		if params.From != nil {
			from = *params.From
		}
		if params.To != nil {
			to = *params.To
		}
		timeline := stays.Timeline(intervals, from, to)
		respondData(w, r, http.StatusOK, timeline, count(len(timeline)), started)
	case ViewSummary:
		summary := stays.Summarize(stays.Visits(intervals, params.MinDuration))
		respondData(w, r, http.StatusOK, summary, count(len(summary)), started)
	default:
		respondData(w, r, http.StatusOK, intervals, count(len(intervals)), started)
	}
}

// parseStaysParams returns the parsed parameters or a client-facing message.
func parseStaysParams(r *http.Request, defaultMin time.Duration) (staysParams, string) {
	q := r.URL.Query()
	p := staysParams{
		Key:         q.Get("key"),
		View:        q.Get("view"),
		MinDuration: defaultMin,
	}
	if p.Key == "" {
		p.Key = string(models.PlaceKeyPlace)
	}
	if p.View == "" {
		p.View = ViewIntervals
	}
	if raw := q.Get("min_duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return p, "min_duration must be a duration such as 30m or 2h"
		}
		p.MinDuration = d
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &p.From}, {"to", &p.To}} {
		name, dst := bound.name, bound.dst
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return p, name + " must be an RFC 3339 timestamp"
		}
		t = t.UTC()
		*dst = &t
	}

	if err := validation.Struct(&p); err != nil {
		return p, err.Error()
	}
	if p.From != nil && p.To != nil && p.To.Before(*p.From) {
		return p, "to must not be before from"
	}
	return p, ""
}
