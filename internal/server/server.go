// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package server is the admin HTTP surface: health, Prometheus metrics,
// import ledger inspection, the out-of-band enrichment trigger and stay
// queries over enriched points.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
)

// Trigger starts one enrichment cycle out of band. *enrich.Manager
// satisfies it.
type Trigger interface {
	Trigger() error
}

// Pinger reports database liveness. *database.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires handlers to their dependencies.
type Server struct {
	db      *database.DB
	trigger Trigger
	server  config.ServerConfig
	stays   config.StaysConfig
	sources []string

	// health is db unless replaced in tests.
	health Pinger
}

// New creates the admin server. trigger may be nil when enrichment is
// disabled; the trigger endpoint then answers 503.
func New(db *database.DB, trigger Trigger, cfg *config.Config) *Server {
	return &Server{
		db:      db,
		trigger: trigger,
		server:  cfg.Server,
		stays:   cfg.Stays,
		health:  db,
	}
}

// WithSources names the ledger sources reported by the status endpoint.
func (s *Server) WithSources(names ...string) *Server {
	s.sources = names
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if c := corsHandler(s.server.CORSAllowedOrigins); c != nil {
		r.Use(c)
	}
	r.Use(instrument)
	r.Use(chimiddleware.Compress(5, "application/json"))

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/import-jobs", s.ImportJobs)
		r.Get("/stays", s.Stays)
		r.Get("/status", s.Status)
		r.Get("/points/{id}", s.Point)
		r.With(triggerLimiter(s.server.TriggerRateLimit, s.server.TriggerRateWindow)).
			Post("/enrichment/run", s.TriggerEnrichment)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "no such endpoint", nil)
	})
	return r
}

// HTTPServer returns an *http.Server listening on the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.server.Host, s.server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: s.server.Timeout,
		ReadTimeout:       s.server.Timeout,
		WriteTimeout:      s.server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
}
