// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package openmeteo fetches historical weather and time zone data from
// Open-Meteo.
//
// Series come back as parallel arrays. The client never trusts the
// returned time array: it regenerates the axis from the requested range and
// step and rejects any series whose length differs with ErrShapeMismatch.
package openmeteo

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/providers/httpclient"
)

// Cache provider tags.
const (
	HourlyProvider   = "openmeteo-hourly"
	DailyProvider    = "openmeteo-daily"
	TimezoneProvider = "openmeteo-timezone"
)

// Requested variables, in request order.
var (
	HourlyVariables = []string{
		"temperature_2m", "apparent_temperature", "relative_humidity_2m",
		"precipitation", "cloud_cover", "wind_speed_10m", "weather_code",
	}
	DailyVariables = []string{
		"weather_code", "temperature_2m_max", "temperature_2m_min",
		"precipitation_sum", "sunrise", "sunset",
	}
)

// DayRequest asks for one UTC day at a coordinate.
type DayRequest struct {
	Lat float64
	Lon float64
	Day time.Time
}

// NewDayRequest truncates t to its UTC day.
func NewDayRequest(lat, lon float64, t time.Time) DayRequest {
	return DayRequest{Lat: lat, Lon: lon, Day: StartOfDay(t)}
}

// HourlyKeyParams is the cache fingerprint of an hourly request. Location
// and date are matched by the location-windowed cache.
func HourlyKeyParams(DayRequest) any {
	return map[string]any{"hourly": HourlyVariables, "timezone": "GMT", "timeformat": "unixtime"}
}

// DailyKeyParams is the cache fingerprint of a daily request.
func DailyKeyParams(DayRequest) any {
	return map[string]any{"daily": DailyVariables, "timezone": "GMT", "timeformat": "unixtime"}
}

// Client talks to the archive and forecast endpoints.
type Client struct {
	archive     *httpclient.Client
	forecast    *httpclient.Client
	archiveURL  string
	forecastURL string
}

// NewClient creates a client from provider settings. Each endpoint gets its
// own breaker.
func NewClient(cfg *config.ProvidersConfig) *Client {
	return NewClientWith(
		httpclient.New("openmeteo-archive", cfg),
		httpclient.New("openmeteo-forecast", cfg),
		cfg.OpenMeteoArchiveURL,
		cfg.OpenMeteoForecastURL,
	)
}

// NewClientWith wires existing HTTP clients.
func NewClientWith(archive, forecast *httpclient.Client, archiveURL, forecastURL string) *Client {
	return &Client{archive: archive, forecast: forecast, archiveURL: archiveURL, forecastURL: forecastURL}
}

func (c *Client) archiveParams(req DayRequest) url.Values {
	day := req.Day.UTC().Format("2006-01-02")
	params := url.Values{}
	params.Set("latitude", formatCoord(req.Lat))
	params.Set("longitude", formatCoord(req.Lon))
	params.Set("start_date", day)
	params.Set("end_date", day)
	params.Set("timezone", "GMT")
	params.Set("timeformat", "unixtime")
	return params
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TimeAxis returns start, start+step, ... up to but excluding end.
func TimeAxis(start, end time.Time, step time.Duration) []time.Time {
	if step <= 0 || !end.After(start) {
		return nil
	}
	axis := make([]time.Time, 0, int(end.Sub(start)/step))
	for t := start; t.Before(end); t = t.Add(step) {
		axis = append(axis, t)
	}
	return axis
}

func checkLen(series string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s has %d values for a %d-step axis: %w", series, got, want, httpclient.ErrShapeMismatch)
	}
	return nil
}

// checkAxis verifies that the returned time array, when present, starts at
// the regenerated axis.
func checkAxis(series string, times []int64, axis []time.Time) error {
	if err := checkLen(series, len(times), len(axis)); err != nil {
		return err
	}
	if len(axis) > 0 && times[0] != axis[0].Unix() {
		return fmt.Errorf("%s starts at %d, expected %d: %w", series, times[0], axis[0].Unix(), httpclient.ErrShapeMismatch)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

func joinVars(vars []string) string {
	return strings.Join(vars, ",")
}

func intPtr(v *float64) *int {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	i := int(*v)
	return &i
}
