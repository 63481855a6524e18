// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package config loads Waymark configuration from layered sources using koanf:
// built-in defaults, an optional YAML file, then environment variables.
//
// All values are static for the life of the process.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig    `koanf:"database"`
	ObjectStore ObjectStoreConfig `koanf:"objectstore"`
	Ledger      LedgerConfig      `koanf:"ledger"`
	Enrichment  EnrichmentConfig  `koanf:"enrichment"`
	Cache       CacheConfig       `koanf:"cache"`
	Providers   ProvidersConfig   `koanf:"providers"`
	Stays       StaysConfig       `koanf:"stays"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path                   string `koanf:"path" validate:"required"`
	MaxMemory              string `koanf:"max_memory" validate:"required"`
	Threads                int    `koanf:"threads" validate:"min=0"` // 0 = use NumCPU
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ObjectStoreConfig holds Badger blob store settings.
type ObjectStoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
	Bucket   string `koanf:"bucket" validate:"required"`
}

// LedgerConfig controls the import driver loop.
type LedgerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	CSVDir   string        `koanf:"csv_dir"`
	CSVGlob  string        `koanf:"csv_glob" validate:"required"`
	// JSONLDir enables the JSON-lines source when set.
	JSONLDir  string `koanf:"jsonl_dir"`
	JSONLGlob string `koanf:"jsonl_glob" validate:"required"`
}

// WorkerConfig holds per-enricher pacing and batching.
type WorkerConfig struct {
	Enabled       bool          `koanf:"enabled"`
	APICallsDelay time.Duration `koanf:"api_calls_delay" validate:"min=0"`
	MaxSession    time.Duration `koanf:"max_session" validate:"gt=0"`
	BatchSize     int           `koanf:"batch_size" validate:"min=1,max=300"`
}

// EnrichmentConfig controls the enrichment manager and its workers.
type EnrichmentConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Interval         time.Duration `koanf:"interval" validate:"gt=0"`
	ProgressInterval time.Duration `koanf:"progress_interval" validate:"gt=0"`
	ReverseGeocode   WorkerConfig  `koanf:"reverse_geocode"`
	HourlyWeather    WorkerConfig  `koanf:"hourly_weather"`
	DailyWeather     WorkerConfig  `koanf:"daily_weather"`
	Timezone         WorkerConfig  `koanf:"timezone"`

	// Places without an OSM id are merged with an existing place of the
	// same display name within this distance.
	PlaceDedupRadiusKm float64 `koanf:"place_dedup_radius_km" validate:"gte=0"`
}

// CachePolicy is the validity window and spatial slack for one provider.
// RadiusKm applies to location-windowed caches, CellSizeKm to caches that
// snap coordinates into the key.
type CachePolicy struct {
	Window     time.Duration `koanf:"window" validate:"gt=0"`
	RadiusKm   float64       `koanf:"radius_km" validate:"gte=0"`
	CellSizeKm float64       `koanf:"cell_size_km" validate:"gte=0"`
}

// CacheConfig holds cache policies per provider.
type CacheConfig struct {
	ReverseGeocode CachePolicy `koanf:"reverse_geocode"`
	HourlyWeather  CachePolicy `koanf:"hourly_weather"`
	DailyWeather   CachePolicy `koanf:"daily_weather"`
	Timezone       CachePolicy `koanf:"timezone"`
}

// ProvidersConfig holds external API endpoints.
type ProvidersConfig struct {
	NominatimURL         string        `koanf:"nominatim_url" validate:"httpurl"`
	NominatimZoom        int           `koanf:"nominatim_zoom" validate:"min=0,max=18"`
	OpenMeteoArchiveURL  string        `koanf:"openmeteo_archive_url" validate:"httpurl"`
	OpenMeteoForecastURL string        `koanf:"openmeteo_forecast_url" validate:"httpurl"`
	UserAgent            string        `koanf:"user_agent" validate:"required"`
	Timeout              time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerMaxFailures   uint32        `koanf:"breaker_max_failures" validate:"min=1"`
	BreakerTimeout       time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// StaysConfig holds defaults for stay segmentation queries.
type StaysConfig struct {
	MaxAccuracy float64       `koanf:"max_accuracy" validate:"gt=0"`
	MinDuration time.Duration `koanf:"min_duration" validate:"min=0"`
}

// SupervisorConfig holds suture restart policy.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// CORSAllowedOrigins is empty for same-origin only.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	// TriggerRateLimit caps POST /api/v1/enrichment/run per client IP per
	// TriggerRateWindow. Zero disables the limit.
	TriggerRateLimit  int           `koanf:"trigger_rate_limit" validate:"min=0"`
	TriggerRateWindow time.Duration `koanf:"trigger_rate_window" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration, before any file or
// environment overrides.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:                   "/data/waymark.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,
			PreserveInsertionOrder: true,
		},
		ObjectStore: ObjectStoreConfig{
			Path:     "/data/blobs",
			InMemory: false,
			Bucket:   "waymark",
		},
		Ledger: LedgerConfig{
			Enabled:   true,
			Interval:  5 * time.Minute,
			CSVDir:    "/data/import/points",
			CSVGlob:   "*.csv",
			JSONLGlob: "*.jsonl",
		},
		Enrichment: EnrichmentConfig{
			Enabled:            true,
			Interval:           5 * time.Minute,
			ProgressInterval:   5 * time.Second,
			PlaceDedupRadiusKm: 0.05,
			// Nominatim usage policy: at most one request per second.
			ReverseGeocode: WorkerConfig{
				Enabled:       true,
				APICallsDelay: 1100 * time.Millisecond,
				MaxSession:    5 * time.Minute,
				BatchSize:     100,
			},
			HourlyWeather: WorkerConfig{
				Enabled:       true,
				APICallsDelay: 250 * time.Millisecond,
				MaxSession:    5 * time.Minute,
				BatchSize:     300,
			},
			DailyWeather: WorkerConfig{
				Enabled:       true,
				APICallsDelay: 250 * time.Millisecond,
				MaxSession:    5 * time.Minute,
				BatchSize:     300,
			},
			Timezone: WorkerConfig{
				Enabled:       true,
				APICallsDelay: 250 * time.Millisecond,
				MaxSession:    2 * time.Minute,
				BatchSize:     1,
			},
		},
		Cache: CacheConfig{
			ReverseGeocode: CachePolicy{Window: 365 * 24 * time.Hour, CellSizeKm: 0.1},
			HourlyWeather:  CachePolicy{Window: 30 * time.Minute, RadiusKm: 5},
			DailyWeather:   CachePolicy{Window: 12 * time.Hour, RadiusKm: 10},
			Timezone:       CachePolicy{Window: 365 * 24 * time.Hour, CellSizeKm: 25},
		},
		Providers: ProvidersConfig{
			NominatimURL:         "https://nominatim.openstreetmap.org/reverse",
			NominatimZoom:        18,
			OpenMeteoArchiveURL:  "https://archive-api.open-meteo.com/v1/archive",
			OpenMeteoForecastURL: "https://api.open-meteo.com/v1/forecast",
			UserAgent:            "waymark/1.0 (+https://github.com/tomtom215/waymark)",
			Timeout:              30 * time.Second,
			BreakerMaxFailures:   5,
			BreakerTimeout:       2 * time.Minute,
		},
		Stays: StaysConfig{
			MaxAccuracy: 100,
			MinDuration: 10 * time.Minute,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    3858,
			Timeout: 30 * time.Second,

			TriggerRateLimit:  6,
			TriggerRateWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
