// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package ledger runs batch imports under the import job ledger.
//
// Every run of a Source happens inside one transaction that starts by
// inserting a placeholder import_jobs row. A run that imports nothing rolls
// the transaction back, placeholder included; a run that imports rows
// overwrites the placeholder with its statistics and commits. The newest
// committed job's last entry date is the source's resume cursor.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/tomtom215/waymark/internal/database"
)

// Availability is a source's answer to "is there anything to import?".
type Availability struct {
	HasData bool
	// EstimatedTotal is the number of rows the source expects to import, when
	// it can tell cheaply.
	EstimatedTotal *int64
}

// ImportRequest is handed to Source.Import.
type ImportRequest struct {
	// JobID is the placeholder import_jobs row; imported rows reference it.
	JobID int64
	// Cursor is the last entry date of the newest committed job, nil on the
	// first run. Sources must only import entries strictly after it.
	Cursor *time.Time
}

// ImportResult is what a source reports after importing.
type ImportResult struct {
	ImportedCount  int64
	FirstEntryDate *time.Time
	LastEntryDate  *time.Time
	APICallsCount  int64
	APIVersion     *string
	Logs           []string
}

// Source is one ingestion source. Import must do all its writes through tx.
type Source interface {
	Name() string
	DestinationTable() string
	EntryDateKey() string
	HasNewData(ctx context.Context, q database.Querier, cursor *time.Time) (Availability, error)
	Import(ctx context.Context, tx *sql.Tx, req ImportRequest) (ImportResult, error)
}
