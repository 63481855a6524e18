// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package nominatim is a reverse geocoding client for the OSM Nominatim API.
package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/providers/httpclient"
)

// ProviderName tags Nominatim cache entries and metrics.
const ProviderName = "nominatim"

// Request is one reverse geocoding lookup.
type Request struct {
	Lat         float64
	Lon         float64
	Zoom        int
	Format      string
	NameDetails bool
	ExtraTags   bool
}

// KeyParams returns the cache fingerprint of r. The coordinate enters only
// as its grid cell so nearby lookups share a key.
func KeyParams(r Request, cellSizeKm float64) any {
	return struct {
		Format      string `json:"format"`
		Zoom        int    `json:"zoom"`
		NameDetails bool   `json:"namedetails"`
		ExtraTags   bool   `json:"extratags"`
		Cell        string `json:"cell"`
	}{r.Format, r.Zoom, r.NameDetails, r.ExtraTags, geo.CellID(r.Lat, r.Lon, cellSizeKm)}
}

// Address is the structured address block of a result.
type Address struct {
	Road          string `json:"road,omitempty"`
	Suburb        string `json:"suburb,omitempty"`
	Neighbourhood string `json:"neighbourhood,omitempty"`
	City          string `json:"city,omitempty"`
	Town          string `json:"town,omitempty"`
	Village       string `json:"village,omitempty"`
	Hamlet        string `json:"hamlet,omitempty"`
	Municipality  string `json:"municipality,omitempty"`
	State         string `json:"state,omitempty"`
	Postcode      string `json:"postcode,omitempty"`
	Country       string `json:"country,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
}

// Place is a jsonv2 reverse geocoding result.
type Place struct {
	PlaceID     int64             `json:"place_id,omitempty"`
	OSMType     string            `json:"osm_type,omitempty"`
	OSMID       int64             `json:"osm_id,omitempty"`
	Lat         string            `json:"lat,omitempty"`
	Lon         string            `json:"lon,omitempty"`
	Category    string            `json:"category,omitempty"`
	Type        string            `json:"type,omitempty"`
	Name        string            `json:"name,omitempty"`
	DisplayName string            `json:"display_name"`
	Address     Address           `json:"address"`
	NameDetails map[string]string `json:"namedetails,omitempty"`
	ExtraTags   map[string]string `json:"extratags,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Detail converts the result into a place_details row.
func (p *Place) Detail() *models.PlaceDetail {
	d := &models.PlaceDetail{
		DisplayName: p.DisplayName,
		Name:        optional(p.Name),
		Category:    optional(p.Category),
		PlaceType:   optional(p.Type),
		Road:        optional(p.Address.Road),
		Suburb:      optional(firstNonEmpty(p.Address.Suburb, p.Address.Neighbourhood)),
		City:        optional(firstNonEmpty(p.Address.City, p.Address.Town, p.Address.Village, p.Address.Hamlet, p.Address.Municipality)),
		State:       optional(p.Address.State),
		Postcode:    optional(p.Address.Postcode),
		Country:     optional(p.Address.Country),
		CountryCode: optional(strings.ToUpper(p.Address.CountryCode)),
	}
	if p.OSMType != "" && p.OSMID != 0 {
		osmType, osmID := p.OSMType, p.OSMID
		d.OSMType, d.OSMID = &osmType, &osmID
	}
	if lat, err := strconv.ParseFloat(p.Lat, 64); err == nil {
		d.Latitude = &lat
	}
	if lon, err := strconv.ParseFloat(p.Lon, 64); err == nil {
		d.Longitude = &lon
	}
	return d
}

// Client calls the /reverse endpoint.
type Client struct {
	http    *httpclient.Client
	baseURL string
	zoom    int
}

// NewClient creates a Nominatim client from provider settings.
func NewClient(cfg *config.ProvidersConfig) *Client {
	return NewClientWith(httpclient.New(ProviderName, cfg), cfg.NominatimURL, cfg.NominatimZoom)
}

// NewClientWith wires an existing HTTP client.
func NewClientWith(hc *httpclient.Client, baseURL string, zoom int) *Client {
	return &Client{http: hc, baseURL: baseURL, zoom: zoom}
}

// Request builds the lookup for a coordinate with the client's defaults.
func (c *Client) Request(lat, lon float64) Request {
	return Request{Lat: lat, Lon: lon, Zoom: c.zoom, Format: "jsonv2", NameDetails: true, ExtraTags: true}
}

// Reverse geocodes one coordinate. A result without a display name, or the
// API's {"error": ...} body, is unusable.
func (c *Client) Reverse(ctx context.Context, req Request) (*Place, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(req.Lat, 'f', 7, 64))
	params.Set("lon", strconv.FormatFloat(req.Lon, 'f', 7, 64))
	params.Set("zoom", strconv.Itoa(req.Zoom))
	params.Set("format", req.Format)
	params.Set("addressdetails", "1")
	params.Set("namedetails", boolParam(req.NameDetails))
	params.Set("extratags", boolParam(req.ExtraTags))

	var place Place
	if err := c.http.GetJSON(ctx, c.baseURL, params, &place); err != nil {
		return nil, err
	}
	if place.Error != "" {
		return nil, fmt.Errorf("%s: %s: %w", ProviderName, place.Error, httpclient.ErrUnusableResponse)
	}
	if place.DisplayName == "" {
		return nil, fmt.Errorf("%s: result without display_name: %w", ProviderName, httpclient.ErrUnusableResponse)
	}
	return &place, nil
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
