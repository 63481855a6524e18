// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// Timestamps are stored as TIMESTAMP holding UTC wall time.
//
// No foreign key constraints are declared: DuckDB rewrites updates of
// constrained columns as delete+insert, and enrichment updates the FK
// columns of location_points in place. Indexes likewise only cover columns
// that are never updated.
var tableCreationQueries = []string{
	`CREATE SEQUENCE IF NOT EXISTS import_jobs_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS import_jobs (
		id BIGINT PRIMARY KEY DEFAULT nextval('import_jobs_id_seq'),
		source TEXT NOT NULL,
		destination_table TEXT NOT NULL,
		entry_date_key TEXT NOT NULL,
		job_start TIMESTAMP NOT NULL,
		job_end TIMESTAMP NOT NULL,
		first_entry_date TIMESTAMP NOT NULL,
		last_entry_date TIMESTAMP NOT NULL,
		imported_count BIGINT NOT NULL DEFAULT 0,
		api_calls_count BIGINT NOT NULL DEFAULT 0,
		api_version TEXT,
		logs TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS cache_entries_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		id BIGINT PRIMARY KEY DEFAULT nextval('cache_entries_id_seq'),
		cache_key TEXT NOT NULL,
		provider TEXT NOT NULL,
		object_key TEXT NOT NULL,
		valid_from TIMESTAMP NOT NULL,
		valid_to TIMESTAMP NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		event_at TIMESTAMP NOT NULL,
		latitude DOUBLE,
		longitude DOUBLE,
		CHECK (valid_from <= event_at AND event_at <= valid_to)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS location_points_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS location_points (
		id BIGINT PRIMARY KEY DEFAULT nextval('location_points_id_seq'),
		import_job_id BIGINT,
		recorded_at TIMESTAMP NOT NULL,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		accuracy DOUBLE,
		velocity DOUBLE,
		altitude DOUBLE,
		place_detail_id BIGINT,
		hourly_weather_id BIGINT,
		daily_weather_id BIGINT,
		timezone_id BIGINT,
		reverse_geocode_failed BOOLEAN NOT NULL DEFAULT false,
		weather_failed BOOLEAN NOT NULL DEFAULT false,
		timezone_failed BOOLEAN NOT NULL DEFAULT false
	)`,

	`CREATE SEQUENCE IF NOT EXISTS place_details_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS place_details (
		id BIGINT PRIMARY KEY DEFAULT nextval('place_details_id_seq'),
		osm_type TEXT,
		osm_id BIGINT,
		display_name TEXT NOT NULL,
		name TEXT,
		category TEXT,
		place_type TEXT,
		road TEXT,
		suburb TEXT,
		city TEXT,
		state TEXT,
		postcode TEXT,
		country TEXT,
		country_code TEXT,
		latitude DOUBLE,
		longitude DOUBLE,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS hourly_weather_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS hourly_weather (
		id BIGINT PRIMARY KEY DEFAULT nextval('hourly_weather_id_seq'),
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		observed_at TIMESTAMP NOT NULL,
		temperature DOUBLE,
		apparent_temperature DOUBLE,
		relative_humidity DOUBLE,
		precipitation DOUBLE,
		cloud_cover DOUBLE,
		wind_speed DOUBLE,
		weather_code INTEGER
	)`,

	`CREATE SEQUENCE IF NOT EXISTS daily_weather_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS daily_weather (
		id BIGINT PRIMARY KEY DEFAULT nextval('daily_weather_id_seq'),
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		day DATE NOT NULL,
		temperature_max DOUBLE,
		temperature_min DOUBLE,
		precipitation_sum DOUBLE,
		weather_code INTEGER,
		sunrise TIMESTAMP,
		sunset TIMESTAMP
	)`,

	`CREATE SEQUENCE IF NOT EXISTS timezones_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS timezones (
		id BIGINT PRIMARY KEY DEFAULT nextval('timezones_id_seq'),
		name TEXT NOT NULL,
		abbreviation TEXT,
		utc_offset_seconds INTEGER NOT NULL
	)`,
}

var indexCreationQueries = []string{
	`CREATE INDEX IF NOT EXISTS idx_import_jobs_source ON import_jobs(source)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_lookup ON cache_entries(provider, cache_key)`,
	`CREATE INDEX IF NOT EXISTS idx_location_points_recorded_at ON location_points(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_place_details_osm ON place_details(osm_type, osm_id)`,
	`CREATE INDEX IF NOT EXISTS idx_hourly_weather_observed ON hourly_weather(observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_weather_day ON daily_weather(day)`,
	`CREATE INDEX IF NOT EXISTS idx_timezones_name ON timezones(name)`,
}

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range indexCreationQueries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}
	return nil
}
