// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package nominatim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/providers/httpclient"
)

const louvre = `{
	"place_id": 1,
	"osm_type": "way",
	"osm_id": 12345,
	"lat": "48.8611",
	"lon": "2.3364",
	"category": "tourism",
	"type": "museum",
	"name": "Louvre",
	"display_name": "Louvre, Rue de Rivoli, Paris, France",
	"address": {"road": "Rue de Rivoli", "city": "Paris", "country": "France", "country_code": "fr"},
	"namedetails": {"name": "Louvre"},
	"extratags": {"wikidata": "Q19675"}
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := &config.ProvidersConfig{
		NominatimURL:       srv.URL,
		NominatimZoom:      18,
		UserAgent:          "waymark-test",
		Timeout:            5 * time.Second,
		BreakerMaxFailures: 5,
		BreakerTimeout:     time.Minute,
	}
	return NewClientWith(httpclient.New(t.Name(), cfg), srv.URL, cfg.NominatimZoom)
}

func TestReverse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("format") != "jsonv2" || q.Get("zoom") != "18" || q.Get("namedetails") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("lat") != "48.8611000" {
			t.Errorf("lat = %s", q.Get("lat"))
		}
		_, _ = w.Write([]byte(louvre))
	})

	place, err := c.Reverse(context.Background(), c.Request(48.8611, 2.3364))
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	d := place.Detail()
	if d.OSMID == nil || *d.OSMID != 12345 || *d.OSMType != "way" {
		t.Errorf("osm = %v/%v", d.OSMType, d.OSMID)
	}
	if d.City == nil || *d.City != "Paris" {
		t.Errorf("City = %v", d.City)
	}
	if d.CountryCode == nil || *d.CountryCode != "FR" {
		t.Errorf("CountryCode = %v", d.CountryCode)
	}
	if d.Latitude == nil || *d.Latitude != 48.8611 {
		t.Errorf("Latitude = %v", d.Latitude)
	}
	if d.Suburb != nil {
		t.Errorf("Suburb = %v, want nil", *d.Suburb)
	}
}

func TestReverseUnusable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "api error", body: `{"error":"Unable to geocode"}`},
		{name: "no display name", body: `{"osm_id": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Reverse(context.Background(), c.Request(0, 0))
			if !errors.Is(err, httpclient.ErrUnusableResponse) {
				t.Errorf("err = %v, want ErrUnusableResponse", err)
			}
		})
	}
}

func TestCityFallback(t *testing.T) {
	p := Place{DisplayName: "x", Address: Address{Village: "Giverny", Neighbourhood: "Centre"}}
	d := p.Detail()
	if d.City == nil || *d.City != "Giverny" {
		t.Errorf("City = %v", d.City)
	}
	if d.Suburb == nil || *d.Suburb != "Centre" {
		t.Errorf("Suburb = %v", d.Suburb)
	}
	if d.OSMID != nil {
		t.Error("OSMID set without osm data")
	}
}

func TestKeyParams(t *testing.T) {
	a := KeyParams(Request{Lat: 48.86110, Lon: 2.33640, Zoom: 18, Format: "jsonv2"}, 0.1)
	b := KeyParams(Request{Lat: 48.86111, Lon: 2.33641, Zoom: 18, Format: "jsonv2"}, 0.1)
	c := KeyParams(Request{Lat: 51.5, Lon: -0.12, Zoom: 18, Format: "jsonv2"}, 0.1)
	if a != b {
		t.Error("points in one cell produced different params")
	}
	if a == c {
		t.Error("distant points produced identical params")
	}
}
