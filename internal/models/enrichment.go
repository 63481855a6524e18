// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package models

import "time"

// PlaceDetail is a reverse-geocoded place. OSMType and OSMID identify the
// OpenStreetMap object when the provider returned one.
type PlaceDetail struct {
	ID          int64    `json:"id"`
	OSMType     *string  `json:"osm_type,omitempty"`
	OSMID       *int64   `json:"osm_id,omitempty"`
	DisplayName string   `json:"display_name"`
	Name        *string  `json:"name,omitempty"`
	Category    *string  `json:"category,omitempty"`
	PlaceType   *string  `json:"place_type,omitempty"`
	Road        *string  `json:"road,omitempty"`
	Suburb      *string  `json:"suburb,omitempty"`
	City        *string  `json:"city,omitempty"`
	State       *string  `json:"state,omitempty"`
	Postcode    *string  `json:"postcode,omitempty"`
	Country     *string  `json:"country,omitempty"`
	CountryCode *string  `json:"country_code,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// HourlyWeather is one hour of historical weather at a location.
type HourlyWeather struct {
	ID                  int64     `json:"id"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	ObservedAt          time.Time `json:"observed_at"`
	Temperature         *float64  `json:"temperature,omitempty"`          // °C
	ApparentTemperature *float64  `json:"apparent_temperature,omitempty"` // °C
	RelativeHumidity    *float64  `json:"relative_humidity,omitempty"`    // %
	Precipitation       *float64  `json:"precipitation,omitempty"`        // mm
	CloudCover          *float64  `json:"cloud_cover,omitempty"`          // %
	WindSpeed           *float64  `json:"wind_speed,omitempty"`           // km/h
	WeatherCode         *int      `json:"weather_code,omitempty"`         // WMO code
}

// DailyWeather is one day of historical weather at a location.
type DailyWeather struct {
	ID               int64      `json:"id"`
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	Day              time.Time  `json:"day"`
	TemperatureMax   *float64   `json:"temperature_max,omitempty"`
	TemperatureMin   *float64   `json:"temperature_min,omitempty"`
	PrecipitationSum *float64   `json:"precipitation_sum,omitempty"`
	WeatherCode      *int       `json:"weather_code,omitempty"`
	Sunrise          *time.Time `json:"sunrise,omitempty"`
	Sunset           *time.Time `json:"sunset,omitempty"`
}

// TimezoneInfo is the IANA zone observed for a location.
type TimezoneInfo struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Abbreviation     *string `json:"abbreviation,omitempty"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
}
