// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package ledger

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/models"
)

// JSONLPointSourceName is the ledger source id of JSONLPointSource.
const JSONLPointSourceName = "jsonl-points"

const maxJSONLLine = 1 << 20

// jsonlRecord is one line of a JSON-lines export.
type jsonlRecord struct {
	RecordedAt *time.Time `json:"recorded_at"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	Accuracy   *float64   `json:"accuracy"`
	Velocity   *float64   `json:"velocity"`
	Altitude   *float64   `json:"altitude"`
}

func (r *jsonlRecord) point() (models.LocationPoint, bool) {
	if r.RecordedAt == nil || r.Latitude == nil || r.Longitude == nil {
		return models.LocationPoint{}, false
	}
	if *r.Latitude < -90 || *r.Latitude > 90 || *r.Longitude < -180 || *r.Longitude > 180 {
		return models.LocationPoint{}, false
	}
	return models.LocationPoint{
		RecordedAt: r.RecordedAt.UTC(),
		Latitude:   *r.Latitude,
		Longitude:  *r.Longitude,
		Accuracy:   r.Accuracy,
		Velocity:   r.Velocity,
		Altitude:   r.Altitude,
	}, true
}

// JSONLPointSource imports location points from JSON-lines exports, one
// object per line with recorded_at (RFC 3339), latitude and longitude, and
// optional accuracy, velocity and altitude. Lines that do not decode or lack
// a valid timestamp or coordinate are skipped and counted in the job logs.
type JSONLPointSource struct {
	dir  string
	glob string
}

// NewJSONLPointSource creates a source reading dir/glob.
func NewJSONLPointSource(dir, glob string) *JSONLPointSource {
	return &JSONLPointSource{dir: dir, glob: glob}
}

func (s *JSONLPointSource) Name() string             { return JSONLPointSourceName }
func (s *JSONLPointSource) DestinationTable() string { return "location_points" }
func (s *JSONLPointSource) EntryDateKey() string     { return "recorded_at" }

// HasNewData counts the importable lines after cursor.
func (s *JSONLPointSource) HasNewData(ctx context.Context, _ database.Querier, cursor *time.Time) (Availability, error) {
	batch, err := s.read(ctx, cursor)
	if err != nil || len(batch.points) == 0 {
		return Availability{}, err
	}
	n := int64(len(batch.points))
	return Availability{HasData: true, EstimatedTotal: &n}, nil
}

// Import bulk-inserts every valid line after the cursor in time order.
func (s *JSONLPointSource) Import(ctx context.Context, tx *sql.Tx, req ImportRequest) (ImportResult, error) {
	batch, err := s.read(ctx, req.Cursor)
	if err != nil || len(batch.points) == 0 {
		return ImportResult{}, err
	}

	var res ImportResult
	res.Logs = append(res.Logs, fmt.Sprintf("read %d file(s) from %s", batch.files, s.dir))
	if batch.skipped > 0 {
		res.Logs = append(res.Logs, fmt.Sprintf("skipped %d line(s) with invalid timestamp or coordinates", batch.skipped))
	}

	res.ImportedCount, err = database.InsertPoints(ctx, tx, req.JobID, batch.points)
	if err != nil {
		return ImportResult{}, err
	}
	first := batch.points[0].RecordedAt
	last := batch.points[len(batch.points)-1].RecordedAt
	res.FirstEntryDate, res.LastEntryDate = &first, &last
	return res, nil
}

type jsonlBatch struct {
	points  []models.LocationPoint
	files   int
	skipped int64
}

// read decodes every matched file and keeps the valid points after cursor,
// sorted by recorded_at.
func (s *JSONLPointSource) read(ctx context.Context, cursor *time.Time) (*jsonlBatch, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, s.glob))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", s.glob, err)
	}
	sort.Strings(files)

	batch := &jsonlBatch{files: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := batch.readFile(f, cursor); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(batch.points, func(i, j int) bool {
		return batch.points[i].RecordedAt.Before(batch.points[j].RecordedAt)
	})
	return batch, nil
}

func (b *jsonlBatch) readFile(path string, cursor *time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			b.skipped++
			continue
		}
		p, ok := rec.point()
		if !ok {
			b.skipped++
			continue
		}
		if cursor != nil && !p.RecordedAt.After(*cursor) {
			continue
		}
		b.points = append(b.points, p)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
