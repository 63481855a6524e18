// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package enrich

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/objectstore"
	"github.com/tomtom215/waymark/internal/providers/httpclient"
	"github.com/tomtom215/waymark/internal/providers/nominatim"
	"github.com/tomtom215/waymark/internal/providers/openmeteo"
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

var base = time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)

// testConfig returns defaults with no pacing and generous sessions.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ObjectStore.Bucket = "test"
	cfg.Enrichment.ProgressInterval = time.Hour
	for _, w := range []*config.WorkerConfig{
		&cfg.Enrichment.ReverseGeocode,
		&cfg.Enrichment.HourlyWeather,
		&cfg.Enrichment.DailyWeather,
		&cfg.Enrichment.Timezone,
	} {
		w.Enabled = true
		w.APICallsDelay = 0
		w.MaxSession = time.Minute
		w.BatchSize = 50
	}
	cfg.Providers.UserAgent = "waymark-test"
	cfg.Providers.Timeout = 5 * time.Second
	cfg.Providers.BreakerMaxFailures = 100
	return cfg
}

type at struct {
	lat, lon float64
	t        time.Time
}

// insertPoints stores points under a fresh import job and returns their ids
// in input order.
func insertPoints(t *testing.T, db *database.DB, pts ...at) []int64 {
	t.Helper()
	ctx := context.Background()
	jobID, err := database.InsertImportJobPlaceholder(ctx, db.Conn(), "test", "location_points", "recorded_at", base)
	if err != nil {
		t.Fatalf("InsertImportJobPlaceholder: %v", err)
	}
	ids := make([]int64, len(pts))
	for i, p := range pts {
		if _, err := database.InsertPoints(ctx, db.Conn(), jobID, []models.LocationPoint{
			{RecordedAt: p.t, Latitude: p.lat, Longitude: p.lon},
		}); err != nil {
			t.Fatalf("InsertPoints: %v", err)
		}
		err := db.Conn().QueryRowContext(ctx, `SELECT max(id) FROM location_points`).Scan(&ids[i])
		if err != nil {
			t.Fatal(err)
		}
	}
	return ids
}

func getPoint(t *testing.T, db *database.DB, id int64) *models.LocationPoint {
	t.Helper()
	p, err := database.GetPoint(context.Background(), db.Conn(), id)
	if err != nil {
		t.Fatalf("GetPoint(%d): %v", id, err)
	}
	return p
}

func pending(t *testing.T, db *database.DB, target database.Target) int64 {
	t.Helper()
	n, err := database.CountPending(context.Background(), db.Conn(), target)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	return n
}

// fakeAPI records request arrival times.
type fakeAPI struct {
	mu    sync.Mutex
	times []time.Time
	srv   *httptest.Server
}

func newFakeAPI(t *testing.T, h func(calls int, w http.ResponseWriter, r *http.Request)) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.times = append(f.times, time.Now())
		n := len(f.times)
		f.mu.Unlock()
		h(n, w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

func (f *fakeAPI) gaps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(f.times); i++ {
		out = append(out, f.times[i].Sub(f.times[i-1]))
	}
	return out
}

// nominatimHandler answers with one OSM node per 0.001 degrees of latitude.
// Latitudes below 20 get Nominatim's error body.
func nominatimHandler(_ int, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, _ := strconv.ParseFloat(q.Get("lat"), 64)
	if lat < 20 {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
		return
	}
	_, _ = fmt.Fprintf(w, `{"osm_type":"node","osm_id":%d,"lat":%q,"lon":%q,
		"display_name":"Place %.3f","address":{"city":"Paris","country":"France","country_code":"fr"}}`,
		int64(math.Round(lat*1000)), q.Get("lat"), q.Get("lon"), lat)
}

func nominatimFor(t *testing.T, cfg *config.Config, api *fakeAPI) *nominatim.Client {
	t.Helper()
	return nominatim.NewClientWith(httpclient.New(t.Name()+"-nominatim", &cfg.Providers), api.srv.URL, 18)
}

func openmeteoFor(t *testing.T, cfg *config.Config, api *fakeAPI) *openmeteo.Client {
	t.Helper()
	return openmeteo.NewClientWith(
		httpclient.New(t.Name()+"-archive", &cfg.Providers),
		httpclient.New(t.Name()+"-forecast", &cfg.Providers),
		api.srv.URL+"/v1/archive",
		api.srv.URL+"/v1/forecast",
	)
}

// countingEnricher records how often it ran.
type countingEnricher struct {
	name    string
	enabled bool
	err     error
	runs    atomic.Int32
}

func (c *countingEnricher) Name() string  { return c.name }
func (c *countingEnricher) Enabled() bool { return c.enabled }

func (c *countingEnricher) Enrich(context.Context, *sql.Tx) error {
	c.runs.Add(1)
	return c.err
}

func newStore() objectstore.Store {
	return objectstore.NewMemoryStore()
}
