// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package main is the entry point of the Waymark daemon.
//
// Waymark imports location exports into DuckDB, enriches every point with
// its reverse-geocoded place, historical weather and time zone, and answers
// stay queries over the enriched stream.
//
// # Startup
//
//  1. Configuration: defaults, optional config.yaml, environment (koanf v2)
//  2. DuckDB relational store and Badger blob store
//  3. Provider clients (Nominatim, Open-Meteo) behind circuit breakers
//  4. Import driver and enrichment manager
//  5. Supervisor tree: ingest, enrichment and admin API layers
//
// # Signals
//
// SIGINT and SIGTERM cancel the tree. Running import and enrichment cycles
// roll back; the next start resumes from the last committed state.
//
// # Example
//
//	export DUCKDB_PATH=/data/waymark.duckdb
//	export BLOB_STORE_PATH=/data/blobs
//	export IMPORT_CSV_DIR=/data/import/points
//	export HTTP_USER_AGENT="waymark/1.0 (me@example.com)"
//	./waymark
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata" // zone rules for Open-Meteo time zones on minimal images

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/enrich"
	"github.com/tomtom215/waymark/internal/ledger"
	"github.com/tomtom215/waymark/internal/logging"
	"github.com/tomtom215/waymark/internal/objectstore"
	"github.com/tomtom215/waymark/internal/providers/nominatim"
	"github.com/tomtom215/waymark/internal/providers/openmeteo"
	"github.com/tomtom215/waymark/internal/server"
	"github.com/tomtom215/waymark/internal/supervisor"
	"github.com/tomtom215/waymark/internal/supervisor/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("ledger", cfg.Ledger.Enabled).
		Bool("enrichment", cfg.Enrichment.Enabled).
		Bool("admin", cfg.Server.Enabled).
		Msg("Starting Waymark")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize database")
		return 1
	}
	defer func() {
		if err := db.Checkpoint(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("Checkpoint on shutdown failed")
		}
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	store, err := objectstore.OpenBadger(&cfg.ObjectStore)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open object store")
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing object store")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfigFrom(&cfg.Supervisor))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return 1
	}

	var sourceNames []string
	if cfg.Ledger.Enabled {
		sources := []ledger.Source{ledger.NewCSVPointSource(cfg.Ledger.CSVDir, cfg.Ledger.CSVGlob)}
		if cfg.Ledger.JSONLDir != "" {
			sources = append(sources, ledger.NewJSONLPointSource(cfg.Ledger.JSONLDir, cfg.Ledger.JSONLGlob))
		}
		driver := ledger.NewDriver(db, sources...)
		for _, src := range driver.Sources() {
			sourceNames = append(sourceNames, src.Name())
		}
		tree.AddIngestService(services.NewLedgerService(driver, cfg.Ledger.Interval))
	}

	var trigger server.Trigger
	if cfg.Enrichment.Enabled {
		manager := enrich.NewManager(db, enrich.NewStandardEnrichers(cfg,
			nominatim.NewClient(&cfg.Providers),
			openmeteo.NewClient(&cfg.Providers),
			store,
		)...)
		tree.AddEnrichmentService(services.NewEnrichmentService(manager, cfg.Enrichment.Interval))
		trigger = manager
	}

	if cfg.Server.Enabled {
		srv := server.New(db, trigger, cfg).WithSources(sourceNames...).HTTPServer()
		tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Supervisor.ShutdownTimeout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for services to stop...")
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
			return 1
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Waymark stopped")
	return 0
}
