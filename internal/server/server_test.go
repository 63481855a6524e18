// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/enrich"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/stays"
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

var t0 = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) Trigger() error {
	f.calls++
	return f.err
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Meta   Meta            `json:"meta"`
	Error  *Error          `json:"error"`
}

func newTestServer(t *testing.T, trigger Trigger, mutate func(*config.Config)) (*Server, *database.DB) {
	t.Helper()
	db := setupTestDB(t)
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return New(db, trigger, cfg), db
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	rec, env := do(t, s.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("healthy: %d %+v", rec.Code, env)
	}
	var health struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(env.Data, &health); err != nil {
		t.Fatal(err)
	}
	if health.SchemaVersion < 1 {
		t.Errorf("schema_version = %d, want the applied migration version", health.SchemaVersion)
	}

	s.health = downPinger{}
	rec, env = do(t, s.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("down: status = %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != CodeUnavailable {
		t.Errorf("down: error = %+v", env.Error)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error leaked to the client")
	}
}

func insertJob(t *testing.T, db *database.DB, source string, first time.Time, n int64) {
	t.Helper()
	ctx := context.Background()
	id, err := database.InsertImportJobPlaceholder(ctx, db.Conn(), source, "location_points", "recorded_at", first)
	if err != nil {
		t.Fatal(err)
	}
	if err := database.FinalizeImportJob(ctx, db.Conn(), &models.ImportJob{
		ID:             id,
		JobStart:       first,
		JobEnd:         first.Add(time.Second),
		FirstEntryDate: first,
		LastEntryDate:  first.Add(time.Hour),
		ImportedCount:  n,
		Logs:           []string{"imported"},
	}); err != nil {
		t.Fatal(err)
	}
}

func TestImportJobs(t *testing.T) {
	s, db := newTestServer(t, nil, nil)
	insertJob(t, db, "csv-points", t0, 10)
	insertJob(t, db, "csv-points", t0.Add(24*time.Hour), 5)
	insertJob(t, db, "other", t0.Add(48*time.Hour), 3)
	h := s.Router()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCount  int
		wantFirst  string
	}{
		{name: "all sources", target: "/api/v1/import-jobs", wantStatus: 200, wantCount: 3, wantFirst: "other"},
		{name: "one source", target: "/api/v1/import-jobs?source=csv-points", wantStatus: 200, wantCount: 2, wantFirst: "csv-points"},
		{name: "limit", target: "/api/v1/import-jobs?limit=1", wantStatus: 200, wantCount: 1, wantFirst: "other"},
		{name: "unknown source", target: "/api/v1/import-jobs?source=nope", wantStatus: 200, wantCount: 0},
		{name: "limit zero", target: "/api/v1/import-jobs?limit=0", wantStatus: 400},
		{name: "limit too large", target: "/api/v1/import-jobs?limit=501", wantStatus: 400},
		{name: "limit not a number", target: "/api/v1/import-jobs?limit=ten", wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodGet, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if env.Error == nil || env.Error.Code != CodeValidation {
					t.Errorf("error = %+v", env.Error)
				}
				return
			}

			var jobs []models.ImportJob
			if err := json.Unmarshal(env.Data, &jobs); err != nil {
				t.Fatal(err)
			}
			if len(jobs) != tt.wantCount || env.Meta.Count == nil || *env.Meta.Count != tt.wantCount {
				t.Fatalf("got %d jobs (meta %v), want %d", len(jobs), env.Meta.Count, tt.wantCount)
			}
			if tt.wantCount > 0 && jobs[0].Source != tt.wantFirst {
				t.Errorf("first source = %q, want %q", jobs[0].Source, tt.wantFirst)
			}
		})
	}
}

func TestTriggerEnrichment(t *testing.T) {
	tests := []struct {
		name       string
		trigger    Trigger
		wantStatus int
		wantCode   string
	}{
		{name: "queued", trigger: &fakeTrigger{}, wantStatus: http.StatusAccepted},
		{name: "already pending", trigger: &fakeTrigger{err: enrich.ErrRunPending}, wantStatus: http.StatusConflict, wantCode: CodeConflict},
		{name: "loop stopped", trigger: &fakeTrigger{err: enrich.ErrNotRunning}, wantStatus: http.StatusServiceUnavailable, wantCode: CodeUnavailable},
		{name: "unexpected", trigger: &fakeTrigger{err: errors.New("boom")}, wantStatus: http.StatusInternalServerError, wantCode: CodeInternal},
		{name: "disabled", trigger: nil, wantStatus: http.StatusServiceUnavailable, wantCode: CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.trigger, nil)
			rec, env := do(t, s.Router(), http.MethodPost, "/api/v1/enrichment/run", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode != "" && (env.Error == nil || env.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}

func TestTriggerRateLimit(t *testing.T) {
	trigger := &fakeTrigger{}
	s, _ := newTestServer(t, trigger, func(c *config.Config) {
		c.Server.TriggerRateLimit = 2
		c.Server.TriggerRateWindow = time.Minute
	})
	h := s.Router()

	for i := 0; i < 2; i++ {
		if rec, _ := do(t, h, http.MethodPost, "/api/v1/enrichment/run", nil); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec, env := do(t, h, http.MethodPost, "/api/v1/enrichment/run", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != CodeRateLimited {
		t.Errorf("error = %+v", env.Error)
	}
	if trigger.calls != 2 {
		t.Errorf("trigger calls = %d, want 2", trigger.calls)
	}

	// Other endpoints are not limited.
	if rec, _ := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz after limit: %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	h := s.Router()

	rec, env := do(t, h, http.MethodGet, "/healthz", http.Header{RequestIDHeader: {"upstream-42"}})
	if got := rec.Header().Get(RequestIDHeader); got != "upstream-42" {
		t.Errorf("echoed id = %q", got)
	}
	if env.Meta.RequestID != "upstream-42" {
		t.Errorf("meta request id = %q", env.Meta.RequestID)
	}

	rec, env = do(t, h, http.MethodGet, "/healthz", nil)
	id := rec.Header().Get(RequestIDHeader)
	if id == "" || env.Meta.RequestID != id {
		t.Errorf("generated id = %q, meta = %q", id, env.Meta.RequestID)
	}

	rec, _ = do(t, h, http.MethodGet, "/healthz", http.Header{RequestIDHeader: {strings.Repeat("x", 100)}})
	if got := rec.Header().Get(RequestIDHeader); len(got) > maxRequestIDLen {
		t.Errorf("oversized upstream id accepted: %d bytes", len(got))
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec, env := do(t, s.Router(), http.MethodGet, "/api/v1/nothing", nil)
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != CodeNotFound {
		t.Errorf("status = %d, error = %+v", rec.Code, env.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	h := s.Router()

	do(t, h, http.MethodGet, "/healthz", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `waymark_http_requests_total{method="GET",route="/healthz",status="200"}`) {
		t.Error("request to /healthz not recorded under its route pattern")
	}
}

func TestCORS(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		s, _ := newTestServer(t, nil, nil)
		rec, _ := do(t, s.Router(), http.MethodGet, "/healthz", http.Header{"Origin": {"https://example.com"}})
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
		}
	})

	t.Run("configured origin", func(t *testing.T) {
		s, _ := newTestServer(t, nil, func(c *config.Config) {
			c.Server.CORSAllowedOrigins = []string{"https://dash.example.com"}
		})
		h := s.Router()

		rec, _ := do(t, h, http.MethodGet, "/healthz", http.Header{"Origin": {"https://dash.example.com"}})
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
			t.Errorf("allowed origin = %q", got)
		}
		rec, _ = do(t, h, http.MethodGet, "/healthz", http.Header{"Origin": {"https://evil.example.com"}})
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("foreign origin allowed: %q", got)
		}
	})
}

// seedStays writes a Paris morning followed by a Lyon afternoon.
//
//	Paris 09:00 09:30 10:00 | Lyon 12:00 13:00
func seedStays(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()

	jobID, err := database.InsertImportJobPlaceholder(ctx, db.Conn(), "test", "location_points", "recorded_at", t0)
	if err != nil {
		t.Fatal(err)
	}

	places := map[string]int64{}
	for _, city := range []string{"Paris", "Lyon"} {
		c, country := city, "France"
		id, _, err := database.FindOrInsertPlaceDetail(ctx, db.Conn(), &models.PlaceDetail{
			DisplayName: city, City: &c, Country: &country,
		}, 0)
		if err != nil {
			t.Fatal(err)
		}
		places[city] = id
	}

	for _, p := range []struct {
		city string
		at   time.Duration
	}{
		{"Paris", 0}, {"Paris", 30 * time.Minute}, {"Paris", time.Hour},
		{"Lyon", 3 * time.Hour}, {"Lyon", 4 * time.Hour},
	} {
		if _, err := database.InsertPoints(ctx, db.Conn(), jobID, []models.LocationPoint{
			{RecordedAt: t0.Add(p.at), Latitude: 45, Longitude: 4},
		}); err != nil {
			t.Fatal(err)
		}
		var id int64
		if err := db.Conn().QueryRowContext(ctx, `SELECT max(id) FROM location_points`).Scan(&id); err != nil {
			t.Fatal(err)
		}
		if err := database.SetPointTarget(ctx, db.Conn(), database.TargetPlace, id, places[p.city]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStays(t *testing.T) {
	s, db := newTestServer(t, nil, nil)
	seedStays(t, db)
	h := s.Router()

	t.Run("intervals", func(t *testing.T) {
		rec, env := do(t, h, http.MethodGet, "/api/v1/stays?key=city", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
		}
		var got []models.StayInterval
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d intervals, want 2", len(got))
		}
		if *got[0].PlaceKey != "Paris" || got[0].DurationSeconds != 3*3600 {
			t.Errorf("first = %s %v", *got[0].PlaceKey, got[0].DurationSeconds)
		}
		if *got[1].PlaceKey != "Lyon" || got[1].DurationSeconds != 3600 {
			t.Errorf("second = %s %v", *got[1].PlaceKey, got[1].DurationSeconds)
		}
	})

	t.Run("visits drop short stays", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/api/v1/stays?key=city&view=visits&min_duration=2h", nil)
		var got []models.StayInterval
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || *got[0].PlaceKey != "Paris" {
			t.Fatalf("visits = %+v", got)
		}
	})

	t.Run("summary", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/api/v1/stays?key=country&view=summary", nil)
		var got []stays.PlaceSummary
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].PlaceKey != "France" || got[0].TotalSeconds != 4*3600 {
			t.Fatalf("summary = %+v", got)
		}
	})

	t.Run("timeline clips to bounds", func(t *testing.T) {
		target := "/api/v1/stays?key=city&view=timeline&from=" + t0.Add(time.Hour).Format(time.RFC3339) +
			"&to=" + t0.Add(3*time.Hour+30*time.Minute).Format(time.RFC3339)
		rec, env := do(t, h, http.MethodGet, target, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
		}
		var got []models.StayInterval
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 || *got[0].PlaceKey != "Paris" {
			t.Fatalf("timeline = %+v", got)
		}
		if !got[0].StartDate.Equal(t0.Add(time.Hour)) || !got[0].EndDate.Equal(t0.Add(3*time.Hour)) {
			t.Errorf("Paris = [%s, %s]", got[0].StartDate, got[0].EndDate)
		}
	})

	bad := []struct {
		name   string
		target string
	}{
		{"unknown key", "/api/v1/stays?key=street"},
		{"unknown view", "/api/v1/stays?view=heatmap"},
		{"bad duration", "/api/v1/stays?min_duration=soon"},
		{"negative duration", "/api/v1/stays?min_duration=-5m"},
		{"bad from", "/api/v1/stays?from=yesterday"},
		{"inverted range", "/api/v1/stays?from=2024-03-02T10:00:00Z&to=2024-03-02T09:00:00Z"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodGet, tt.target, nil)
			if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != CodeValidation {
				t.Errorf("status = %d, error = %+v", rec.Code, env.Error)
			}
		})
	}
}

func TestHTTPServer(t *testing.T) {
	s, _ := newTestServer(t, nil, func(c *config.Config) {
		c.Server.Host = "0.0.0.0"
		c.Server.Port = 9100
		c.Server.Timeout = 5 * time.Second
	})
	srv := s.HTTPServer()
	if srv.Addr != "0.0.0.0:9100" {
		t.Errorf("Addr = %q", srv.Addr)
	}
	if srv.ReadTimeout != 5*time.Second || srv.WriteTimeout != 5*time.Second {
		t.Errorf("timeouts = %s/%s", srv.ReadTimeout, srv.WriteTimeout)
	}
}

func TestStatus(t *testing.T) {
	s, db := newTestServer(t, nil, nil)
	s.WithSources("test", "csv-points")
	seedStays(t, db)

	rec, env := do(t, s.Router(), http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var report StatusReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatal(err)
	}

	if report.SchemaVersion < 1 || report.Points != 5 {
		t.Errorf("schema_version=%d points=%d, want >=1 and 5", report.SchemaVersion, report.Points)
	}
	if report.Pending["place"] != 0 || report.Pending["timezone"] != 5 {
		t.Errorf("pending = %v, want place 0 and timezone 5", report.Pending)
	}
	if report.Targets["place_details"] != 2 || report.Targets["timezones"] != 0 {
		t.Errorf("targets = %v", report.Targets)
	}
	if report.ImportJobs["test"] != 1 || report.ImportJobs["csv-points"] != 0 {
		t.Errorf("import_jobs = %v", report.ImportJobs)
	}
	if n, ok := report.CacheEntries["nominatim"]; !ok || n != 0 {
		t.Errorf("cache_entries = %v", report.CacheEntries)
	}
}

func TestPoint(t *testing.T) {
	s, db := newTestServer(t, nil, nil)
	seedStays(t, db)
	ctx := context.Background()
	h := s.Router()

	var first, last int64
	if err := db.Conn().QueryRowContext(ctx, `SELECT min(id), max(id) FROM location_points`).Scan(&first, &last); err != nil {
		t.Fatal(err)
	}
	abbr := "CET"
	tzID, err := database.FindOrInsertTimezone(ctx, db.Conn(), &models.TimezoneInfo{
		Name: "Europe/Paris", Abbreviation: &abbr, UTCOffsetSeconds: 3600,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := database.SetPointTarget(ctx, db.Conn(), database.TargetTimezone, first, tzID); err != nil {
		t.Fatal(err)
	}

	t.Run("enriched", func(t *testing.T) {
		rec, env := do(t, h, http.MethodGet, "/api/v1/points/"+strconv.FormatInt(first, 10), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
		}
		var got PointDetail
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Point == nil || got.Point.ID != first || !got.Point.RecordedAt.Equal(t0) {
			t.Errorf("point = %+v", got.Point)
		}
		if got.Place == nil || got.Place.DisplayName != "Paris" {
			t.Errorf("place = %+v, want Paris", got.Place)
		}
		if got.Timezone == nil || got.Timezone.Name != "Europe/Paris" {
			t.Errorf("timezone = %+v, want Europe/Paris", got.Timezone)
		}
	})

	t.Run("without timezone", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/api/v1/points/"+strconv.FormatInt(last, 10), nil)
		var got PointDetail
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Place == nil || got.Place.DisplayName != "Lyon" || got.Timezone != nil {
			t.Errorf("got place %+v timezone %+v, want Lyon and no zone", got.Place, got.Timezone)
		}
	})

	for _, tt := range []struct {
		target string
		want   int
		code   string
	}{
		{target: "/api/v1/points/999999", want: http.StatusNotFound, code: CodeNotFound},
		{target: "/api/v1/points/abc", want: http.StatusBadRequest, code: CodeValidation},
		{target: "/api/v1/points/0", want: http.StatusBadRequest, code: CodeValidation},
	} {
		rec, env := do(t, h, http.MethodGet, tt.target, nil)
		if rec.Code != tt.want || env.Error == nil || env.Error.Code != tt.code {
			t.Errorf("%s: status %d error %+v, want %d %s", tt.target, rec.Code, env.Error, tt.want, tt.code)
		}
	}
}
