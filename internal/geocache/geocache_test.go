// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package geocache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/objectstore"
)

var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB", Threads: 1})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type lookup struct {
	Format string
	Zoom   int
	Lat    float64
	Lon    float64
}

type answer struct {
	Name string `json:"name"`
}

func lookupKey(r lookup) any {
	return struct {
		Format string `json:"format"`
		Zoom   int    `json:"zoom"`
	}{r.Format, r.Zoom}
}

type failingStore struct {
	objectstore.Store
	getErr error
}

func (s *failingStore) Get(context.Context, string, string) ([]byte, error) {
	return nil, s.getErr
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestTimeWindowedRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := NewTimeWindowed[lookup, answer](objectstore.NewMemoryStore(),
		Options{Provider: "test", Bucket: "b", Window: 7 * 24 * time.Hour}, lookupKey)
	req := lookup{Format: "json", Zoom: 18}

	if err := c.Set(ctx, db.Conn(), req, answer{Name: "home"}, day(10), nil, time.Now()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tests := []struct {
		name    string
		at      time.Time
		wantHit bool
	}{
		{name: "same instant", at: day(10), wantHit: true},
		{name: "inside window", at: day(16), wantHit: true},
		{name: "window edge", at: day(17), wantHit: true},
		{name: "past window", at: day(18), wantHit: false},
		{name: "before window", at: day(2), wantHit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Get(ctx, db.Conn(), req, tt.at, nil)
			if ok != tt.wantHit {
				t.Fatalf("Get hit = %v, want %v", ok, tt.wantHit)
			}
			if ok && got.Name != "home" {
				t.Errorf("Get = %+v, want home", got)
			}
		})
	}

	if _, ok := c.Get(ctx, db.Conn(), lookup{Format: "json", Zoom: 10}, day(10), nil); ok {
		t.Error("different zoom hit the same entry")
	}
}

func TestClosestEventWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := NewTimeWindowed[lookup, answer](objectstore.NewMemoryStore(),
		Options{Provider: "test", Bucket: "b", Window: 48 * time.Hour}, lookupKey)
	req := lookup{Format: "json"}

	for _, e := range []struct {
		at   time.Time
		name string
	}{{day(10), "tenth"}, {day(11), "eleventh"}} {
		if err := c.Set(ctx, db.Conn(), req, answer{Name: e.name}, e.at, nil, time.Now()); err != nil {
			t.Fatal(err)
		}
	}

	got, ok := c.Get(ctx, db.Conn(), req, day(11).Add(-2*time.Hour), nil)
	if !ok || got.Name != "eleventh" {
		t.Errorf("Get = %+v, %v; want eleventh", got, ok)
	}
	got, ok = c.Get(ctx, db.Conn(), req, day(10).Add(time.Hour), nil)
	if !ok || got.Name != "tenth" {
		t.Errorf("Get = %+v, %v; want tenth", got, ok)
	}
}

func TestLocationWindowed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	store := objectstore.NewMemoryStore()
	c := NewLocationWindowed[lookup, answer](store,
		Options{Provider: "weather", Bucket: "b", Window: 30 * time.Minute, RadiusKm: 5}, lookupKey)
	req := lookup{Format: "json"}
	paris := geo.Point{Lat: 48.8566, Lon: 2.3522}

	if err := c.Set(ctx, db.Conn(), req, answer{Name: "paris"}, day(10), &paris, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, db.Conn(), req, answer{Name: "nowhere"}, day(10), nil, time.Now()); err == nil {
		t.Error("Set without point succeeded on a location-windowed cache")
	}

	tests := []struct {
		name    string
		point   *geo.Point
		at      time.Time
		wantHit bool
	}{
		{name: "nearby", point: &geo.Point{Lat: 48.87, Lon: 2.36}, at: day(10).Add(10 * time.Minute), wantHit: true},
		{name: "too far", point: &geo.Point{Lat: 49.5, Lon: 2.35}, at: day(10), wantHit: false},
		{name: "too late", point: &paris, at: day(10).Add(time.Hour), wantHit: false},
		{name: "no point", point: nil, at: day(10), wantHit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := c.Get(ctx, db.Conn(), req, tt.at, tt.point); ok != tt.wantHit {
				t.Errorf("Get hit = %v, want %v", ok, tt.wantHit)
			}
		})
	}

	entries, err := database.CacheCandidates(ctx, db.Conn(), "weather", mustKey(t, c, req), day(10), nil)
	if err != nil || len(entries) != 1 {
		t.Fatalf("index rows = %d, %v", len(entries), err)
	}
	if !strings.HasPrefix(entries[0].ObjectKey, "cache/weather/") || !strings.HasSuffix(entries[0].ObjectKey, ".json.gz") {
		t.Errorf("object key = %q", entries[0].ObjectKey)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d blobs, want 1", store.Len())
	}
}

func TestLocationWindowedAcrossAntimeridian(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := NewLocationWindowed[lookup, answer](objectstore.NewMemoryStore(),
		Options{Provider: "weather", Bucket: "b", Window: 30 * time.Minute, RadiusKm: 5}, lookupKey)
	req := lookup{Format: "json"}
	east := geo.Point{Lat: -17, Lon: 179.99}
	west := geo.Point{Lat: -17, Lon: -179.99}

	if d := geo.Distance(east, west); d > 5 {
		t.Fatalf("fixture points are %.2fkm apart, want <= 5", d)
	}
	if err := c.Set(ctx, db.Conn(), req, answer{Name: "fiji"}, day(10), &east, time.Now()); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get(ctx, db.Conn(), req, day(10), &west)
	if !ok || got.Name != "fiji" {
		t.Errorf("Get across the antimeridian = %+v, %v; want fiji hit", got, ok)
	}
	if _, ok := c.Get(ctx, db.Conn(), req, day(10), &geo.Point{Lat: -17, Lon: -179.5}); ok {
		t.Error("point 53km away hit a 5km entry")
	}
}

func TestStorageFaultIsMiss(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	store := &failingStore{Store: objectstore.NewMemoryStore(), getErr: errors.New("disk on fire")}
	c := NewTimeWindowed[lookup, answer](store,
		Options{Provider: "test", Bucket: "b", Window: time.Hour, MemoryEntries: -1}, lookupKey)
	req := lookup{Format: "json"}

	if err := c.Set(ctx, db.Conn(), req, answer{Name: "x"}, day(10), nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, db.Conn(), req, day(10), nil); ok {
		t.Error("Get hit despite a failing store")
	}

	store.getErr = objectstore.ErrNotFound
	if _, ok := c.Get(ctx, db.Conn(), req, day(10), nil); ok {
		t.Error("Get hit with a missing blob")
	}
}

func TestKeyStability(t *testing.T) {
	c := NewTimeWindowed[lookup, answer](objectstore.NewMemoryStore(), Options{Provider: "test"}, lookupKey)

	a := mustKey(t, c, lookup{Format: "json", Zoom: 18, Lat: 1, Lon: 2})
	b := mustKey(t, c, lookup{Format: "json", Zoom: 18, Lat: 50, Lon: -3})
	if a != b {
		t.Errorf("coordinates changed the key: %s != %s", a, b)
	}
	if a != mustKey(t, c, lookup{Format: "json", Zoom: 18}) {
		t.Error("key is not deterministic")
	}
	if a == mustKey(t, c, lookup{Format: "json", Zoom: 17}) {
		t.Error("zoom did not change the key")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}

	m1, err := Fingerprint(map[string]any{"b": 1, "a": []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	m2, _ := Fingerprint(map[string]any{"a": []string{"x"}, "b": 1})
	if m1 != m2 {
		t.Error("map key order changed the fingerprint")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	in := []byte(`{"name":"` + strings.Repeat("a", 1000) + `"}`)
	blob, err := compress(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) >= len(in) {
		t.Errorf("compressed %d bytes into %d", len(in), len(blob))
	}
	out, err := decompress(blob)
	if err != nil || string(out) != string(in) {
		t.Errorf("decompress = %q, %v", out, err)
	}
	if _, err := decompress([]byte("not gzip")); err == nil {
		t.Error("decompress accepted garbage")
	}
}

func mustKey(t *testing.T, c *Cache[lookup, answer], req lookup) string {
	t.Helper()
	k, err := c.Key(req)
	if err != nil {
		t.Fatal(err)
	}
	return k
}
