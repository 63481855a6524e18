// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waymark/internal/models"
)

// PlaceholderEntryDate is written to first/last_entry_date of an import job
// row while its run is still in flight. Committed rows never carry it.
var PlaceholderEntryDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

const importJobColumns = `id, source, destination_table, entry_date_key, job_start, job_end,
	first_entry_date, last_entry_date, imported_count, api_calls_count, api_version,
	estimated_total, logs, created_at, updated_at`

// InsertImportJobPlaceholder inserts a sentinel-valued job row and returns its id.
func InsertImportJobPlaceholder(ctx context.Context, q Querier, source, destinationTable, entryDateKey string, jobStart time.Time) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO import_jobs (
			source, destination_table, entry_date_key, job_start, job_end,
			first_entry_date, last_entry_date, imported_count, api_calls_count,
			logs, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '[]', ?, ?)
		RETURNING id`,
		source, destinationTable, entryDateKey, jobStart.UTC(), jobStart.UTC(),
		PlaceholderEntryDate, PlaceholderEntryDate, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert import job placeholder: %w", err)
	}
	return id, nil
}

// FinalizeImportJob overwrites the placeholder row with the run's final statistics.
func FinalizeImportJob(ctx context.Context, q Querier, job *models.ImportJob) error {
	if job.FirstEntryDate.After(job.LastEntryDate) {
		return fmt.Errorf("import job %d: first entry date %s after last entry date %s",
			job.ID, job.FirstEntryDate, job.LastEntryDate)
	}

	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal import logs: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE import_jobs SET
			job_end = ?,
			first_entry_date = ?,
			last_entry_date = ?,
			imported_count = ?,
			api_calls_count = ?,
			api_version = ?,
			estimated_total = ?,
			logs = ?,
			updated_at = ?
		WHERE id = ?`,
		job.JobEnd.UTC(), job.FirstEntryDate.UTC(), job.LastEntryDate.UTC(),
		job.ImportedCount, job.APICallsCount, nullable(job.APIVersion), nullable(job.EstimatedTotal),
		string(logsJSON), time.Now().UTC(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize import job %d: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("finalize import job %d: %d rows affected", job.ID, n)
	}
	return nil
}

// LatestImportJob returns the committed job with the greatest last entry date
// for source, or nil when the source has never imported anything.
func LatestImportJob(ctx context.Context, q Querier, source string) (*models.ImportJob, error) {
	row := q.QueryRowContext(ctx, `SELECT `+importJobColumns+`
		FROM import_jobs
		WHERE source = ? AND imported_count > 0
		ORDER BY last_entry_date DESC, id DESC
		LIMIT 1`, source)

	job, err := scanImportJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest import job for %s: %w", source, err)
	}
	return job, nil
}

// ListImportJobs returns the most recent jobs, newest first. An empty source
// lists every source.
func ListImportJobs(ctx context.Context, q Querier, source string, limit int) ([]models.ImportJob, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "imported_count > 0")
	if source != "" {
		where = append(where, "source = ?")
		args = append(args, source)
	}
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, `SELECT `+importJobColumns+`
		FROM import_jobs
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY job_start DESC, id DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	defer closeWithLog(rows, "import job rows")

	jobs := make([]models.ImportJob, 0, limit)
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountImportJobs counts job rows for source, placeholders included. Used to
// verify that rolled-back runs leave nothing behind.
func CountImportJobs(ctx context.Context, q Querier, source string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM import_jobs WHERE source = ?`, source).Scan(&n); err != nil {
		return 0, fmt.Errorf("count import jobs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImportJob(row rowScanner) (*models.ImportJob, error) {
	var (
		job  models.ImportJob
		logs string
	)
	if err := row.Scan(
		&job.ID, &job.Source, &job.DestinationTable, &job.EntryDateKey,
		&job.JobStart, &job.JobEnd, &job.FirstEntryDate, &job.LastEntryDate,
		&job.ImportedCount, &job.APICallsCount, &job.APIVersion, &job.EstimatedTotal,
		&logs, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(logs), &job.Logs); err != nil {
		return nil, fmt.Errorf("decode logs of import job %d: %w", job.ID, err)
	}
	return &job, nil
}
