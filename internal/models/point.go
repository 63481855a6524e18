// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package models

import "time"

// LocationPoint is a single location ping.
type LocationPoint struct {
	ID          int64     `json:"id"`
	ImportJobID *int64    `json:"import_job_id,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    *float64  `json:"accuracy,omitempty"` // meters
	Velocity    *float64  `json:"velocity,omitempty"` // m/s
	Altitude    *float64  `json:"altitude,omitempty"` // meters

	PlaceDetailID   *int64 `json:"place_detail_id,omitempty"`
	HourlyWeatherID *int64 `json:"hourly_weather_id,omitempty"`
	DailyWeatherID  *int64 `json:"daily_weather_id,omitempty"`
	TimezoneID      *int64 `json:"timezone_id,omitempty"`

	ReverseGeocodeFailed bool `json:"reverse_geocode_failed"`
	WeatherFailed        bool `json:"weather_failed"`
	TimezoneFailed       bool `json:"timezone_failed"`
}

// PendingPoint is the projection enrichment workers page through.
type PendingPoint struct {
	ID         int64
	RecordedAt time.Time
	Latitude   float64
	Longitude  float64
}
