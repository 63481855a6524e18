// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package openmeteo

import (
	"context"
	"time"

	"github.com/tomtom215/waymark/internal/models"
)

type hourlyResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time                []int64    `json:"time"`
		Temperature         []*float64 `json:"temperature_2m"`
		ApparentTemperature []*float64 `json:"apparent_temperature"`
		RelativeHumidity    []*float64 `json:"relative_humidity_2m"`
		Precipitation       []*float64 `json:"precipitation"`
		CloudCover          []*float64 `json:"cloud_cover"`
		WindSpeed           []*float64 `json:"wind_speed_10m"`
		WeatherCode         []*float64 `json:"weather_code"`
	} `json:"hourly"`
}

type dailyResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Daily     struct {
		Time             []int64    `json:"time"`
		WeatherCode      []*float64 `json:"weather_code"`
		TemperatureMax   []*float64 `json:"temperature_2m_max"`
		TemperatureMin   []*float64 `json:"temperature_2m_min"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		Sunrise          []*int64   `json:"sunrise"`
		Sunset           []*int64   `json:"sunset"`
	} `json:"daily"`
}

// HourlyDay is the 24 hourly observations of one UTC day at the grid point
// Open-Meteo resolved the request to.
type HourlyDay struct {
	Latitude  float64                `json:"latitude"`
	Longitude float64                `json:"longitude"`
	Day       time.Time              `json:"day"`
	Hours     []models.HourlyWeather `json:"hours"`
}

// Covers reports whether t falls on this day.
func (d *HourlyDay) Covers(t time.Time) bool {
	return StartOfDay(t).Equal(d.Day.UTC())
}

// At returns the observation for the hour containing t.
func (d *HourlyDay) At(t time.Time) (*models.HourlyWeather, bool) {
	if !d.Covers(t) {
		return nil, false
	}
	i := int(t.UTC().Sub(d.Day.UTC()) / time.Hour)
	if i < 0 || i >= len(d.Hours) {
		return nil, false
	}
	return &d.Hours[i], true
}

// Hourly fetches every hour of req.Day.
func (c *Client) Hourly(ctx context.Context, req DayRequest) (*HourlyDay, error) {
	params := c.archiveParams(req)
	params.Set("hourly", joinVars(HourlyVariables))

	var raw hourlyResponse
	if err := c.archive.GetJSON(ctx, c.archiveURL, params, &raw); err != nil {
		return nil, err
	}

	day := StartOfDay(req.Day)
	axis := TimeAxis(day, day.AddDate(0, 0, 1), time.Hour)
	h := &raw.Hourly
	if err := checkAxis("hourly.time", h.Time, axis); err != nil {
		return nil, err
	}
	for name, series := range map[string][]*float64{
		"temperature_2m":       h.Temperature,
		"apparent_temperature": h.ApparentTemperature,
		"relative_humidity_2m": h.RelativeHumidity,
		"precipitation":        h.Precipitation,
		"cloud_cover":          h.CloudCover,
		"wind_speed_10m":       h.WindSpeed,
		"weather_code":         h.WeatherCode,
	} {
		if err := checkLen("hourly."+name, len(series), len(axis)); err != nil {
			return nil, err
		}
	}

	out := &HourlyDay{
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,
		Day:       day,
		Hours:     make([]models.HourlyWeather, len(axis)),
	}
	for i, at := range axis {
		out.Hours[i] = models.HourlyWeather{
			Latitude:            raw.Latitude,
			Longitude:           raw.Longitude,
			ObservedAt:          at,
			Temperature:         h.Temperature[i],
			ApparentTemperature: h.ApparentTemperature[i],
			RelativeHumidity:    h.RelativeHumidity[i],
			Precipitation:       h.Precipitation[i],
			CloudCover:          h.CloudCover[i],
			WindSpeed:           h.WindSpeed[i],
			WeatherCode:         intPtr(h.WeatherCode[i]),
		}
	}
	return out, nil
}

// Daily fetches the daily summary of req.Day.
func (c *Client) Daily(ctx context.Context, req DayRequest) (*models.DailyWeather, error) {
	params := c.archiveParams(req)
	params.Set("daily", joinVars(DailyVariables))

	var raw dailyResponse
	if err := c.archive.GetJSON(ctx, c.archiveURL, params, &raw); err != nil {
		return nil, err
	}

	day := StartOfDay(req.Day)
	axis := TimeAxis(day, day.AddDate(0, 0, 1), 24*time.Hour)
	d := &raw.Daily
	if err := checkAxis("daily.time", d.Time, axis); err != nil {
		return nil, err
	}
	for name, n := range map[string]int{
		"weather_code":       len(d.WeatherCode),
		"temperature_2m_max": len(d.TemperatureMax),
		"temperature_2m_min": len(d.TemperatureMin),
		"precipitation_sum":  len(d.PrecipitationSum),
		"sunrise":            len(d.Sunrise),
		"sunset":             len(d.Sunset),
	} {
		if err := checkLen("daily."+name, n, len(axis)); err != nil {
			return nil, err
		}
	}

	return &models.DailyWeather{
		Latitude:         raw.Latitude,
		Longitude:        raw.Longitude,
		Day:              day,
		TemperatureMax:   d.TemperatureMax[0],
		TemperatureMin:   d.TemperatureMin[0],
		PrecipitationSum: d.PrecipitationSum[0],
		WeatherCode:      intPtr(d.WeatherCode[0]),
		Sunrise:          unixPtr(d.Sunrise[0]),
		Sunset:           unixPtr(d.Sunset[0]),
	}, nil
}

func unixPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
