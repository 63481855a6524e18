// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/waymark/config.yaml",
	"/etc/waymark/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from three layers, later layers winning:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (see envMappings)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are list-valued keys that environment variables set as
// comma-separated strings.
var sliceConfigPaths = []string{
	"server.cors_allowed_origins",
}

// processSliceFields splits comma-separated strings at sliceConfigPaths.
// Lists from the YAML file are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Object store
	"blob_store_path":      "objectstore.path",
	"blob_store_in_memory": "objectstore.in_memory",
	"blob_store_bucket":    "objectstore.bucket",

	// Import ledger
	"ledger_enabled":    "ledger.enabled",
	"ledger_interval":   "ledger.interval",
	"import_csv_dir":    "ledger.csv_dir",
	"import_csv_glob":   "ledger.csv_glob",
	"import_jsonl_dir":  "ledger.jsonl_dir",
	"import_jsonl_glob": "ledger.jsonl_glob",

	// Enrichment manager
	"enrichment_enabled":           "enrichment.enabled",
	"enrichment_interval":          "enrichment.interval",
	"enrichment_progress_interval": "enrichment.progress_interval",
	"place_dedup_radius_km":        "enrichment.place_dedup_radius_km",

	// Enrichment workers
	"reverse_geocode_enabled":         "enrichment.reverse_geocode.enabled",
	"reverse_geocode_api_calls_delay": "enrichment.reverse_geocode.api_calls_delay",
	"reverse_geocode_max_session":     "enrichment.reverse_geocode.max_session",
	"reverse_geocode_batch_size":      "enrichment.reverse_geocode.batch_size",
	"hourly_weather_enabled":          "enrichment.hourly_weather.enabled",
	"hourly_weather_api_calls_delay":  "enrichment.hourly_weather.api_calls_delay",
	"hourly_weather_max_session":      "enrichment.hourly_weather.max_session",
	"hourly_weather_batch_size":       "enrichment.hourly_weather.batch_size",
	"daily_weather_enabled":           "enrichment.daily_weather.enabled",
	"daily_weather_api_calls_delay":   "enrichment.daily_weather.api_calls_delay",
	"daily_weather_max_session":       "enrichment.daily_weather.max_session",
	"daily_weather_batch_size":        "enrichment.daily_weather.batch_size",
	"timezone_enabled":                "enrichment.timezone.enabled",
	"timezone_api_calls_delay":        "enrichment.timezone.api_calls_delay",
	"timezone_max_session":            "enrichment.timezone.max_session",
	"timezone_batch_size":             "enrichment.timezone.batch_size",

	// Cache policies
	"reverse_geocode_cache_window":   "cache.reverse_geocode.window",
	"reverse_geocode_cache_cell_km":  "cache.reverse_geocode.cell_size_km",
	"hourly_weather_cache_window":    "cache.hourly_weather.window",
	"hourly_weather_cache_radius_km": "cache.hourly_weather.radius_km",
	"daily_weather_cache_window":     "cache.daily_weather.window",
	"daily_weather_cache_radius_km":  "cache.daily_weather.radius_km",
	"timezone_cache_window":          "cache.timezone.window",
	"timezone_cache_cell_km":         "cache.timezone.cell_size_km",

	// External providers
	"nominatim_url":          "providers.nominatim_url",
	"nominatim_zoom":         "providers.nominatim_zoom",
	"openmeteo_archive_url":  "providers.openmeteo_archive_url",
	"openmeteo_forecast_url": "providers.openmeteo_forecast_url",
	"http_user_agent":        "providers.user_agent",
	"http_client_timeout":    "providers.timeout",
	"breaker_max_failures":   "providers.breaker_max_failures",
	"breaker_timeout":        "providers.breaker_timeout",

	// Stays
	"stays_max_accuracy": "stays.max_accuracy",
	"stays_min_duration": "stays.min_duration",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",

	// Admin server
	"admin_enabled": "server.enabled",
	"http_host":     "server.host",
	"http_port":     "server.port",
	"http_timeout":  "server.timeout",

	"cors_allowed_origins": "server.cors_allowed_origins",
	"trigger_rate_limit":   "server.trigger_rate_limit",
	"trigger_rate_window":  "server.trigger_rate_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path, or ""
// to skip it.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - REVERSE_GEOCODE_API_CALLS_DELAY -> enrichment.reverse_geocode.api_calls_delay
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
