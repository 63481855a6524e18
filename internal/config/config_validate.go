// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package config

import (
	"fmt"

	"github.com/tomtom215/waymark/internal/validation"
)

// Validate checks struct-tag rules first, then the cross-field rules that
// tags cannot express.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateObjectStore,
		c.validateLedger,
		c.validateCache,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateObjectStore() error {
	if !c.ObjectStore.InMemory && c.ObjectStore.Path == "" {
		return fmt.Errorf("objectstore.path is required unless objectstore.in_memory is set")
	}
	return nil
}

func (c *Config) validateLedger() error {
	if c.Ledger.Enabled && c.Ledger.CSVDir == "" {
		return fmt.Errorf("ledger.csv_dir is required when the ledger is enabled")
	}
	return nil
}

// validateCache requires snapping caches to have a cell size and proximity
// caches to have a radius.
func (c *Config) validateCache() error {
	cells := map[string]float64{
		"cache.reverse_geocode.cell_size_km": c.Cache.ReverseGeocode.CellSizeKm,
		"cache.timezone.cell_size_km":        c.Cache.Timezone.CellSizeKm,
	}
	for key, v := range cells {
		if v <= 0 {
			return fmt.Errorf("%s must be greater than 0", key)
		}
	}

	radii := map[string]float64{
		"cache.hourly_weather.radius_km": c.Cache.HourlyWeather.RadiusKm,
		"cache.daily_weather.radius_km":  c.Cache.DailyWeather.RadiusKm,
	}
	for key, v := range radii {
		if v <= 0 {
			return fmt.Errorf("%s must be greater than 0", key)
		}
	}
	return nil
}
