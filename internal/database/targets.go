// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/models"
)

// FindOrInsertPlaceDetail returns the id of an existing place matching p, or
// inserts p. A place matches when it has the same OSM object and display
// name, or, for places without an OSM id, the same display name within
// dedupRadiusKm. reused reports whether an existing row was returned.
//
// A later, more specific result for the same OSM object never replaces the
// stored row.
func FindOrInsertPlaceDetail(ctx context.Context, q Querier, p *models.PlaceDetail, dedupRadiusKm float64) (id int64, reused bool, err error) {
	id, err = findPlaceDetail(ctx, q, p, dedupRadiusKm)
	if err != nil {
		return 0, false, err
	}
	if id != 0 {
		return id, true, nil
	}

	err = q.QueryRowContext(ctx, `
		INSERT INTO place_details (
			osm_type, osm_id, display_name, name, category, place_type, road, suburb,
			city, state, postcode, country, country_code, latitude, longitude, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		nullable(p.OSMType), nullable(p.OSMID), p.DisplayName, nullable(p.Name),
		nullable(p.Category), nullable(p.PlaceType), nullable(p.Road), nullable(p.Suburb),
		nullable(p.City), nullable(p.State), nullable(p.Postcode), nullable(p.Country),
		nullable(p.CountryCode), nullable(p.Latitude), nullable(p.Longitude), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("insert place detail: %w", err)
	}
	return id, false, nil
}

func findPlaceDetail(ctx context.Context, q Querier, p *models.PlaceDetail, dedupRadiusKm float64) (int64, error) {
	if p.OSMType != nil && p.OSMID != nil {
		var id int64
		err := q.QueryRowContext(ctx, `SELECT id FROM place_details
			WHERE osm_type = ? AND osm_id = ? AND display_name = ?
			ORDER BY id LIMIT 1`, *p.OSMType, *p.OSMID, p.DisplayName).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("find place detail by osm id: %w", err)
		}
		return id, nil
	}

	if p.Latitude == nil || p.Longitude == nil {
		return 0, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT id, latitude, longitude FROM place_details
		WHERE osm_id IS NULL AND display_name = ? AND latitude IS NOT NULL
		ORDER BY id`, p.DisplayName)
	if err != nil {
		return 0, fmt.Errorf("find place detail by name: %w", err)
	}
	defer closeWithLog(rows, "place detail rows")

	here := geo.Point{Lat: *p.Latitude, Lon: *p.Longitude}
	for rows.Next() {
		var (
			id       int64
			lat, lon float64
		)
		if err := rows.Scan(&id, &lat, &lon); err != nil {
			return 0, fmt.Errorf("scan place detail: %w", err)
		}
		if geo.Distance(here, geo.Point{Lat: lat, Lon: lon}) <= dedupRadiusKm {
			return id, nil
		}
	}
	return 0, rows.Err()
}

// GetPlaceDetail loads one place detail row.
func GetPlaceDetail(ctx context.Context, q Querier, id int64) (*models.PlaceDetail, error) {
	var p models.PlaceDetail
	err := q.QueryRowContext(ctx, `
		SELECT id, osm_type, osm_id, display_name, name, category, place_type, road, suburb,
			city, state, postcode, country, country_code, latitude, longitude
		FROM place_details WHERE id = ?`, id).Scan(
		&p.ID, &p.OSMType, &p.OSMID, &p.DisplayName, &p.Name, &p.Category, &p.PlaceType,
		&p.Road, &p.Suburb, &p.City, &p.State, &p.Postcode, &p.Country, &p.CountryCode,
		&p.Latitude, &p.Longitude)
	if err != nil {
		return nil, fmt.Errorf("get place detail %d: %w", id, err)
	}
	return &p, nil
}

// FindOrInsertHourlyWeather dedupes on (observed_at, latitude, longitude).
func FindOrInsertHourlyWeather(ctx context.Context, q Querier, w *models.HourlyWeather) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM hourly_weather
		WHERE observed_at = ? AND latitude = ? AND longitude = ?
		ORDER BY id LIMIT 1`, w.ObservedAt.UTC(), w.Latitude, w.Longitude).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find hourly weather: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		INSERT INTO hourly_weather (
			latitude, longitude, observed_at, temperature, apparent_temperature,
			relative_humidity, precipitation, cloud_cover, wind_speed, weather_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		w.Latitude, w.Longitude, w.ObservedAt.UTC(), nullable(w.Temperature),
		nullable(w.ApparentTemperature), nullable(w.RelativeHumidity), nullable(w.Precipitation),
		nullable(w.CloudCover), nullable(w.WindSpeed), nullable(w.WeatherCode),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert hourly weather: %w", err)
	}
	return id, nil
}

// FindOrInsertDailyWeather dedupes on (day, latitude, longitude).
func FindOrInsertDailyWeather(ctx context.Context, q Querier, w *models.DailyWeather) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM daily_weather
		WHERE day = CAST(? AS DATE) AND latitude = ? AND longitude = ?
		ORDER BY id LIMIT 1`, dayString(w.Day), w.Latitude, w.Longitude).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find daily weather: %w", err)
	}

	var sunrise, sunset any
	if w.Sunrise != nil {
		sunrise = w.Sunrise.UTC()
	}
	if w.Sunset != nil {
		sunset = w.Sunset.UTC()
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO daily_weather (
			latitude, longitude, day, temperature_max, temperature_min,
			precipitation_sum, weather_code, sunrise, sunset
		) VALUES (?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		w.Latitude, w.Longitude, dayString(w.Day), nullable(w.TemperatureMax), nullable(w.TemperatureMin),
		nullable(w.PrecipitationSum), nullable(w.WeatherCode), sunrise, sunset,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert daily weather: %w", err)
	}
	return id, nil
}

// FindOrInsertTimezone dedupes on (name, abbreviation, utc_offset_seconds).
func FindOrInsertTimezone(ctx context.Context, q Querier, tz *models.TimezoneInfo) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM timezones
		WHERE name = ? AND abbreviation IS NOT DISTINCT FROM ? AND utc_offset_seconds = ?
		ORDER BY id LIMIT 1`, tz.Name, nullable(tz.Abbreviation), tz.UTCOffsetSeconds).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find timezone: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		INSERT INTO timezones (name, abbreviation, utc_offset_seconds)
		VALUES (?, ?, ?)
		RETURNING id`, tz.Name, nullable(tz.Abbreviation), tz.UTCOffsetSeconds).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert timezone: %w", err)
	}
	return id, nil
}

// GetTimezone loads one timezone row.
func GetTimezone(ctx context.Context, q Querier, id int64) (*models.TimezoneInfo, error) {
	var tz models.TimezoneInfo
	err := q.QueryRowContext(ctx, `SELECT id, name, abbreviation, utc_offset_seconds FROM timezones WHERE id = ?`, id).
		Scan(&tz.ID, &tz.Name, &tz.Abbreviation, &tz.UTCOffsetSeconds)
	if err != nil {
		return nil, fmt.Errorf("get timezone %d: %w", id, err)
	}
	return &tz, nil
}

// CountRows counts rows in one of the enrichment target tables.
func CountRows(ctx context.Context, q Querier, table string) (int64, error) {
	switch table {
	case "place_details", "hourly_weather", "daily_weather", "timezones", "location_points", "cache_entries", "import_jobs":
	default:
		return 0, fmt.Errorf("count rows: unknown table %q", table)
	}
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// dayString renders a DATE bind argument. Dates are bound as text so the
// conversion never depends on the session time zone.
func dayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
