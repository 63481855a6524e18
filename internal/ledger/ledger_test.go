// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/metrics"
	"github.com/tomtom215/waymark/internal/models"
)

var testDBSemaphore = make(chan struct{}, 2)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := database.New(&config.DatabaseConfig{
		Path:                   ":memory:",
		MaxMemory:              "1GB",
		Threads:                1,
		PreserveInsertionOrder: true,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return db
}

var base = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// fakeSource serves a fixed point list, importing only points after the
// cursor.
type fakeSource struct {
	points    []models.LocationPoint
	importErr error
	// discard makes Import write its rows but report zero.
	discard bool
	// noRange makes Import omit the entry date range.
	noRange bool

	calls   int
	cursors []*time.Time
}

func (f *fakeSource) Name() string             { return "fake" }
func (f *fakeSource) DestinationTable() string { return "location_points" }
func (f *fakeSource) EntryDateKey() string     { return "recorded_at" }

func (f *fakeSource) after(cursor *time.Time) []models.LocationPoint {
	var out []models.LocationPoint
	for _, p := range f.points {
		if cursor == nil || p.RecordedAt.After(*cursor) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeSource) HasNewData(_ context.Context, _ database.Querier, cursor *time.Time) (Availability, error) {
	n := int64(len(f.after(cursor)))
	return Availability{HasData: n > 0, EstimatedTotal: &n}, nil
}

func (f *fakeSource) Import(ctx context.Context, tx *sql.Tx, req ImportRequest) (ImportResult, error) {
	f.calls++
	f.cursors = append(f.cursors, req.Cursor)

	pts := f.after(req.Cursor)
	n, err := database.InsertPoints(ctx, tx, req.JobID, pts)
	if err != nil {
		return ImportResult{}, err
	}
	if f.importErr != nil {
		return ImportResult{}, f.importErr
	}
	if f.discard {
		return ImportResult{}, nil
	}
	res := ImportResult{ImportedCount: n, Logs: []string{"fake import"}}
	if !f.noRange {
		first, last := pts[0].RecordedAt, pts[len(pts)-1].RecordedAt
		res.FirstEntryDate, res.LastEntryDate = &first, &last
	}
	return res, nil
}

func pointsAt(offsets ...time.Duration) []models.LocationPoint {
	out := make([]models.LocationPoint, len(offsets))
	for i, off := range offsets {
		out[i] = models.LocationPoint{RecordedAt: base.Add(off), Latitude: 48.8566, Longitude: 2.3522}
	}
	return out
}

func counts(t *testing.T, db *database.DB, source string) (jobs, points int64) {
	t.Helper()
	ctx := context.Background()
	jobs, err := database.CountImportJobs(ctx, db.Conn(), source)
	if err != nil {
		t.Fatalf("CountImportJobs: %v", err)
	}
	points, err = database.CountPoints(ctx, db.Conn())
	if err != nil {
		t.Fatalf("CountPoints: %v", err)
	}
	return jobs, points
}

func TestRunCommitsJob(t *testing.T) {
	db := setupTestDB(t)
	src := &fakeSource{points: pointsAt(0, time.Minute, 2*time.Minute)}
	d := NewDriver(db, src)

	stats := d.Run(context.Background(), src)
	if stats.Outcome != metrics.OutcomeImported || stats.Err != nil {
		t.Fatalf("Run = %+v, want imported", stats)
	}
	if stats.Imported != 3 || stats.JobID == 0 {
		t.Errorf("Run = %+v, want 3 rows and a job id", stats)
	}

	jobs, points := counts(t, db, "fake")
	if jobs != 1 || points != 3 {
		t.Fatalf("jobs=%d points=%d, want 1 and 3", jobs, points)
	}

	job, err := database.LatestImportJob(context.Background(), db.Conn(), "fake")
	if err != nil {
		t.Fatal(err)
	}
	if !job.FirstEntryDate.Equal(base) || !job.LastEntryDate.Equal(base.Add(2*time.Minute)) {
		t.Errorf("range = [%s, %s]", job.FirstEntryDate, job.LastEntryDate)
	}
	if job.EstimatedTotal == nil || *job.EstimatedTotal != 3 {
		t.Errorf("EstimatedTotal = %v, want 3", job.EstimatedTotal)
	}
	if len(job.Logs) != 1 || job.Logs[0] != "fake import" {
		t.Errorf("Logs = %v", job.Logs)
	}
}

func TestRunRollsBack(t *testing.T) {
	tests := []struct {
		name    string
		src     *fakeSource
		outcome string
		wantErr bool
	}{
		{
			name:    "zero rows reported",
			src:     &fakeSource{points: pointsAt(0, time.Minute), discard: true},
			outcome: metrics.OutcomeEmpty,
		},
		{
			name:    "import error",
			src:     &fakeSource{points: pointsAt(0, time.Minute), importErr: errors.New("upstream exploded")},
			outcome: metrics.OutcomeFailed,
			wantErr: true,
		},
		{
			name:    "missing date range",
			src:     &fakeSource{points: pointsAt(0), noRange: true},
			outcome: metrics.OutcomeFailed,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			stats := NewDriver(db).Run(context.Background(), tt.src)

			if stats.Outcome != tt.outcome {
				t.Errorf("Outcome = %q, want %q", stats.Outcome, tt.outcome)
			}
			if (stats.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", stats.Err, tt.wantErr)
			}
			if stats.JobID != 0 || stats.Imported != 0 {
				t.Errorf("stats = %+v, want no job", stats)
			}
			if tt.src.calls != 1 {
				t.Errorf("Import called %d times, want 1", tt.src.calls)
			}

			jobs, points := counts(t, db, "fake")
			if jobs != 0 || points != 0 {
				t.Errorf("jobs=%d points=%d after rollback, want none", jobs, points)
			}
		})
	}
}

func TestRunNoData(t *testing.T) {
	db := setupTestDB(t)
	src := &fakeSource{}

	stats := NewDriver(db).Run(context.Background(), src)
	if stats.Outcome != metrics.OutcomeNoData || stats.Err != nil {
		t.Fatalf("Run = %+v, want no-data", stats)
	}
	if src.calls != 0 {
		t.Errorf("Import called %d times on no data", src.calls)
	}
}

func TestCursorAdvances(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := &fakeSource{points: pointsAt(0, time.Minute)}
	d := NewDriver(db, src)

	if s := d.Run(ctx, src); s.Outcome != metrics.OutcomeImported {
		t.Fatalf("first run: %+v", s)
	}

	// Nothing new: cursor holds, no second job.
	if s := d.Run(ctx, src); s.Outcome != metrics.OutcomeNoData {
		t.Fatalf("second run: %+v", s)
	}

	src.points = append(src.points, pointsAt(time.Minute, 5*time.Minute)...)
	s := d.Run(ctx, src)
	if s.Outcome != metrics.OutcomeImported || s.Imported != 1 {
		t.Fatalf("third run: %+v, want exactly the row after the cursor", s)
	}

	if len(src.cursors) != 2 {
		t.Fatalf("Import saw %d cursors, want 2", len(src.cursors))
	}
	if src.cursors[0] != nil {
		t.Errorf("first cursor = %v, want nil", src.cursors[0])
	}
	if c := src.cursors[1]; c == nil || !c.Equal(base.Add(time.Minute)) {
		t.Errorf("second cursor = %v, want %s", c, base.Add(time.Minute))
	}

	jobs, points := counts(t, db, "fake")
	if jobs != 2 || points != 3 {
		t.Errorf("jobs=%d points=%d, want 2 and 3", jobs, points)
	}
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	db := setupTestDB(t)
	bad := &fakeSource{points: pointsAt(0), importErr: errors.New("boom")}
	good := &csvLikeSource{fakeSource{points: pointsAt(time.Hour)}}

	stats := NewDriver(db, bad, good).RunAll(context.Background())
	if len(stats) != 2 {
		t.Fatalf("RunAll returned %d stats", len(stats))
	}
	if stats[0].Outcome != metrics.OutcomeFailed || stats[1].Outcome != metrics.OutcomeImported {
		t.Errorf("outcomes = %q, %q", stats[0].Outcome, stats[1].Outcome)
	}
}

// csvLikeSource is a fakeSource under another ledger name.
type csvLikeSource struct{ fakeSource }

func (c *csvLikeSource) Name() string { return "other" }

func TestScheduleStopsOnCancel(t *testing.T) {
	db := setupTestDB(t)
	src := &fakeSource{points: pointsAt(0)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewDriver(db, src).Schedule(ctx, time.Hour) }()

	deadline := time.After(5 * time.Second)
	for {
		jobs, _ := counts(t, db, "fake")
		if jobs == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never committed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Schedule = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
}

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCSVPointSource(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeCSV(t, dir, "a.csv", "recorded_at,latitude,longitude,accuracy\n"+
		"2024-01-15 12:00:00,48.8566,2.3522,5\n"+
		"2024-01-15 12:01:00,48.8567,2.3523,\n"+
		"not a time,48.0,2.0,1\n"+
		"2024-01-15 12:02:00,123.0,2.0,1\n")
	writeCSV(t, dir, "ignored.txt", "recorded_at,latitude,longitude\n2024-01-15 13:00:00,1,1\n")

	src := NewCSVPointSource(dir, "*.csv")
	d := NewDriver(db, src)

	avail, err := src.HasNewData(ctx, db.Conn(), nil)
	if err != nil {
		t.Fatalf("HasNewData: %v", err)
	}
	if !avail.HasData || avail.EstimatedTotal == nil || *avail.EstimatedTotal != 2 {
		t.Fatalf("HasNewData = %+v, want 2 rows", avail)
	}

	s := d.Run(ctx, src)
	if s.Outcome != metrics.OutcomeImported || s.Imported != 2 {
		t.Fatalf("first run = %+v", s)
	}

	job, err := database.LatestImportJob(ctx, db.Conn(), CSVPointSourceName)
	if err != nil {
		t.Fatal(err)
	}
	if !job.LastEntryDate.Equal(base.Add(time.Minute)) {
		t.Errorf("LastEntryDate = %s", job.LastEntryDate)
	}
	if len(job.Logs) != 2 {
		t.Errorf("Logs = %v, want file count and skipped count", job.Logs)
	}

	// Re-running over the same files imports nothing.
	if s := d.Run(ctx, src); s.Outcome != metrics.OutcomeNoData {
		t.Fatalf("second run = %+v, want no-data", s)
	}

	// A later export overlapping the first contributes only newer rows; the
	// missing accuracy column is filled with NULL.
	writeCSV(t, dir, "b.csv", "latitude,longitude,recorded_at,velocity\n"+
		"48.8566,2.3522,2024-01-15 12:01:00,0\n"+
		"48.8600,2.3600,2024-01-15 12:05:00,1.5\n")

	s = d.Run(ctx, src)
	if s.Outcome != metrics.OutcomeImported || s.Imported != 1 {
		t.Fatalf("third run = %+v, want one row", s)
	}

	var acc, vel *float64
	err = db.Conn().QueryRowContext(ctx,
		`SELECT accuracy, velocity FROM location_points WHERE import_job_id = ?`, s.JobID).Scan(&acc, &vel)
	if err != nil {
		t.Fatal(err)
	}
	if acc != nil || vel == nil || *vel != 1.5 {
		t.Errorf("accuracy=%v velocity=%v", acc, vel)
	}
}

func TestCSVPointSourceNoFiles(t *testing.T) {
	db := setupTestDB(t)
	src := NewCSVPointSource(t.TempDir(), "*.csv")

	avail, err := src.HasNewData(context.Background(), db.Conn(), nil)
	if err != nil || avail.HasData {
		t.Fatalf("HasNewData = %+v, %v; want no data", avail, err)
	}
}

func TestCSVPointSourceMissingColumn(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	writeCSV(t, dir, "a.csv", "time,latitude,longitude\n2024-01-15 12:00:00,1,1\n")

	s := NewDriver(db).Run(context.Background(), NewCSVPointSource(dir, "*.csv"))
	if s.Outcome != metrics.OutcomeFailed || s.Err == nil {
		t.Fatalf("Run = %+v, want failure", s)
	}
}

func TestJSONLPointSource(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	// Out-of-order lines are imported in time order.
	writeCSV(t, dir, "a.jsonl", ""+
		`{"recorded_at":"2024-01-15T12:01:00Z","latitude":48.8567,"longitude":2.3523}`+"\n"+
		`{"recorded_at":"2024-01-15T14:00:00+02:00","latitude":48.8566,"longitude":2.3522,"accuracy":5}`+"\n"+
		"\n"+
		`{"recorded_at":"2024-01-15T12:02:00Z","latitude":123,"longitude":2}`+"\n"+
		`{"latitude":48,"longitude":2}`+"\n"+
		`not json`+"\n")

	src := NewJSONLPointSource(dir, "*.jsonl")
	d := NewDriver(db, src)

	avail, err := src.HasNewData(ctx, db.Conn(), nil)
	if err != nil {
		t.Fatalf("HasNewData: %v", err)
	}
	if !avail.HasData || avail.EstimatedTotal == nil || *avail.EstimatedTotal != 2 {
		t.Fatalf("HasNewData = %+v, want 2 rows", avail)
	}

	s := d.Run(ctx, src)
	if s.Outcome != metrics.OutcomeImported || s.Imported != 2 {
		t.Fatalf("first run = %+v", s)
	}

	job, err := database.LatestImportJob(ctx, db.Conn(), JSONLPointSourceName)
	if err != nil {
		t.Fatal(err)
	}
	if !job.FirstEntryDate.Equal(base) || !job.LastEntryDate.Equal(base.Add(time.Minute)) {
		t.Errorf("entry range = %s..%s, want %s..%s", job.FirstEntryDate, job.LastEntryDate, base, base.Add(time.Minute))
	}
	if len(job.Logs) != 2 {
		t.Errorf("Logs = %v, want file count and skipped count", job.Logs)
	}

	if s := d.Run(ctx, src); s.Outcome != metrics.OutcomeNoData {
		t.Fatalf("second run = %+v, want no-data", s)
	}

	writeCSV(t, dir, "b.jsonl",
		`{"recorded_at":"2024-01-15T12:01:00Z","latitude":48.8567,"longitude":2.3523}`+"\n"+
			`{"recorded_at":"2024-01-15T12:05:00Z","latitude":48.86,"longitude":2.36,"velocity":1.5}`+"\n")

	s = d.Run(ctx, src)
	if s.Outcome != metrics.OutcomeImported || s.Imported != 1 {
		t.Fatalf("third run = %+v, want one row", s)
	}
	n, err := database.CountPoints(ctx, db.Conn())
	if err != nil || n != 3 {
		t.Errorf("CountPoints = %d, %v; want 3", n, err)
	}
}
