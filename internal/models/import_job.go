// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package models

import "time"

// ImportJob is one committed ingestion run for a source.
// A row exists only when ImportedCount > 0.
type ImportJob struct {
	ID               int64     `json:"id"`
	Source           string    `json:"source"`
	DestinationTable string    `json:"destination_table"`
	EntryDateKey     string    `json:"entry_date_key"`
	JobStart         time.Time `json:"job_start"`
	JobEnd           time.Time `json:"job_end"`
	FirstEntryDate   time.Time `json:"first_entry_date"`
	LastEntryDate    time.Time `json:"last_entry_date"`
	ImportedCount    int64     `json:"imported_count"`
	APICallsCount    int64     `json:"api_calls_count"`
	APIVersion       *string   `json:"api_version,omitempty"`
	EstimatedTotal   *int64    `json:"estimated_total,omitempty"`
	Logs             []string  `json:"logs"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Duration returns the wall time the run took.
func (j *ImportJob) Duration() time.Duration {
	return j.JobEnd.Sub(j.JobStart)
}
