// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/waymark/internal/database"
)

// CSVPointSourceName is the ledger source id of CSVPointSource.
const CSVPointSourceName = "csv-points"

var (
	requiredCSVColumns = []string{"recorded_at", "latitude", "longitude"}
	optionalCSVColumns = []string{"accuracy", "velocity", "altitude"}
)

// CSVPointSource imports location points from CSV exports dropped into a
// directory. Files need a header row with recorded_at (ISO 8601, UTC),
// latitude and longitude columns; accuracy, velocity and altitude are
// optional. Rows with an unparseable timestamp or out-of-range coordinates
// are skipped and counted in the job logs.
//
// Files are read with DuckDB's read_csv, so the whole import is a single
// INSERT ... SELECT inside the ledger transaction.
type CSVPointSource struct {
	dir  string
	glob string
}

// NewCSVPointSource creates a source reading dir/glob.
func NewCSVPointSource(dir, glob string) *CSVPointSource {
	return &CSVPointSource{dir: dir, glob: glob}
}

func (s *CSVPointSource) Name() string             { return CSVPointSourceName }
func (s *CSVPointSource) DestinationTable() string { return "location_points" }
func (s *CSVPointSource) EntryDateKey() string     { return "recorded_at" }

// HasNewData counts the importable rows after cursor.
func (s *CSVPointSource) HasNewData(ctx context.Context, q database.Querier, cursor *time.Time) (Availability, error) {
	sel, args, _, err := s.selectRows(ctx, q, cursor)
	if err != nil || sel == "" {
		return Availability{}, err
	}

	var n int64
	err = q.QueryRowContext(ctx,
		`SELECT CAST(count(*) AS BIGINT) FROM (`+sel+`) WHERE `+validRow, args...).Scan(&n)
	if err != nil {
		return Availability{}, fmt.Errorf("count csv rows: %w", err)
	}
	if n == 0 {
		return Availability{}, nil
	}
	return Availability{HasData: true, EstimatedTotal: &n}, nil
}

// Import inserts every valid row after the cursor, tagged with the job id.
func (s *CSVPointSource) Import(ctx context.Context, tx *sql.Tx, req ImportRequest) (ImportResult, error) {
	sel, args, files, err := s.selectRows(ctx, tx, req.Cursor)
	if err != nil || sel == "" {
		return ImportResult{}, err
	}

	var res ImportResult
	res.Logs = append(res.Logs, fmt.Sprintf("read %d file(s) from %s", len(files), s.dir))

	var skipped int64
	err = tx.QueryRowContext(ctx,
		`SELECT CAST(count(*) AS BIGINT) FROM (`+sel+`) WHERE NOT (`+validRow+`)`, args...).Scan(&skipped)
	if err != nil {
		return ImportResult{}, fmt.Errorf("count invalid csv rows: %w", err)
	}
	if skipped > 0 {
		res.Logs = append(res.Logs, fmt.Sprintf("skipped %d row(s) with invalid timestamp or coordinates", skipped))
	}

	insertArgs := append([]any{req.JobID}, args...)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO location_points (import_job_id, recorded_at, latitude, longitude, accuracy, velocity, altitude)
		SELECT ?, ts, lat, lon, acc, vel, alt FROM (`+sel+`) WHERE `+validRow+`
		ORDER BY ts`, insertArgs...)
	if err != nil {
		return ImportResult{}, fmt.Errorf("insert csv rows: %w", err)
	}

	var first, last *time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT CAST(count(*) AS BIGINT), min(recorded_at), max(recorded_at)
		FROM location_points WHERE import_job_id = ?`, req.JobID).Scan(&res.ImportedCount, &first, &last)
	if err != nil {
		return ImportResult{}, fmt.Errorf("summarize csv import: %w", err)
	}
	res.FirstEntryDate, res.LastEntryDate = first, last
	return res, nil
}

const validRow = `ts IS NOT NULL
	AND lat IS NOT NULL AND lat BETWEEN -90 AND 90
	AND lon IS NOT NULL AND lon BETWEEN -180 AND 180`

// selectRows builds the projection over the matched files. It returns an
// empty query when no file matches.
func (s *CSVPointSource) selectRows(ctx context.Context, q database.Querier, cursor *time.Time) (query string, args []any, files []string, err error) {
	files, err = filepath.Glob(filepath.Join(s.dir, s.glob))
	if err != nil {
		return "", nil, nil, fmt.Errorf("glob %s: %w", s.glob, err)
	}
	if len(files) == 0 {
		return "", nil, nil, nil
	}
	sort.Strings(files)

	from := readCSV(files)
	cols, err := csvColumns(ctx, q, from)
	if err != nil {
		return "", nil, nil, err
	}
	for _, c := range requiredCSVColumns {
		if !cols[c] {
			return "", nil, nil, fmt.Errorf("csv files in %s lack required column %q", s.dir, c)
		}
	}

	exprs := []string{
		`try_cast("recorded_at" AS TIMESTAMP) AS ts`,
		`try_cast("latitude" AS DOUBLE) AS lat`,
		`try_cast("longitude" AS DOUBLE) AS lon`,
	}
	for i, c := range optionalCSVColumns {
		alias := [...]string{"acc", "vel", "alt"}[i]
		if cols[c] {
			exprs = append(exprs, fmt.Sprintf(`try_cast(%q AS DOUBLE) AS %s`, c, alias))
		} else {
			exprs = append(exprs, `CAST(NULL AS DOUBLE) AS `+alias)
		}
	}

	query = `SELECT ` + strings.Join(exprs, ", ") + ` FROM ` + from
	if cursor != nil {
		query = `SELECT * FROM (` + query + `) WHERE ts > ?`
		args = append(args, cursor.UTC())
	}
	return query, args, files, nil
}

func csvColumns(ctx context.Context, q database.Querier, from string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT * FROM `+from+` LIMIT 0`)
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return cols, rows.Err()
}

func readCSV(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = quoteLiteral(f)
	}
	return `read_csv([` + strings.Join(quoted, ", ") + `], header = true, all_varchar = true, union_by_name = true)`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
