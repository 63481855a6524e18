// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package openmeteo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/providers/httpclient"
)

// PointRequest asks for the time zone of a coordinate.
type PointRequest struct {
	Lat float64
	Lon float64
}

// TimezoneKeyParams is the cache fingerprint of a time zone lookup: the
// coordinate's grid cell.
func TimezoneKeyParams(r PointRequest, cellSizeKm float64) any {
	return map[string]any{"timezone": "auto", "cell": geo.CellID(r.Lat, r.Lon, cellSizeKm)}
}

// Zone is the IANA zone Open-Meteo resolved for a coordinate, with the
// offset in effect when the lookup ran.
type Zone struct {
	Name             string `json:"timezone"`
	Abbreviation     string `json:"timezone_abbreviation"`
	UTCOffsetSeconds int    `json:"utc_offset_seconds"`
}

// At returns the zone's abbreviation and offset in effect at t. When the
// zone is unknown to the local tz database the looked-up values are used.
func (z *Zone) At(t time.Time) models.TimezoneInfo {
	info := models.TimezoneInfo{Name: z.Name, UTCOffsetSeconds: z.UTCOffsetSeconds}
	abbr := z.Abbreviation

	if loc, err := time.LoadLocation(z.Name); err == nil {
		abbr, info.UTCOffsetSeconds = t.In(loc).Zone()
	}
	if abbr != "" {
		info.Abbreviation = &abbr
	}
	return info
}

// Timezone resolves the zone of a coordinate.
func (c *Client) Timezone(ctx context.Context, req PointRequest) (*Zone, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(req.Lat))
	params.Set("longitude", formatCoord(req.Lon))
	params.Set("timezone", "auto")
	params.Set("forecast_days", "1")

	var z Zone
	if err := c.forecast.GetJSON(ctx, c.forecastURL, params, &z); err != nil {
		return nil, err
	}
	if z.Name == "" {
		return nil, fmt.Errorf("%s: empty timezone: %w", TimezoneProvider, httpclient.ErrUnusableResponse)
	}
	return &z, nil
}
