// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package models defines the row shapes shared by the database, ledger,
// enrichment and stay packages.
//
// Nullable columns are pointers. Enrichment foreign keys on LocationPoint
// are nil until a worker fills them or sets the matching failure flag.
package models
