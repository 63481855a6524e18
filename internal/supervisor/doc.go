// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

/*
Package supervisor runs Waymark's long-lived loops under a suture v4 tree.

	RootSupervisor ("waymark")
	├── IngestSupervisor ("ingest-layer")
	│   └── LedgerService
	├── EnrichmentSupervisor ("enrichment-layer")
	│   └── EnrichmentService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Each layer restarts independently: a crashing admin server does not
interrupt an enrichment cycle, and a failing import loop does not take the
admin server down. Supervisor events are logged through sutureslog over the
zerolog-backed slog handler from the logging package.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"),
		supervisor.TreeConfigFrom(&cfg.Supervisor))
	tree.AddIngestService(services.NewLedgerService(driver, cfg.Ledger.Interval))
	tree.AddEnrichmentService(services.NewEnrichmentService(manager, cfg.Enrichment.Interval))
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Supervisor.ShutdownTimeout))
	err = tree.Serve(ctx)

The tree stops when ctx is canceled; services still running after
ShutdownTimeout appear in UnstoppedServiceReport.
*/
package supervisor
