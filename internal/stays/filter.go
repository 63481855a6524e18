// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package stays

import (
	"sort"
	"time"

	"github.com/tomtom215/waymark/internal/models"
)

// Visits keeps the attributed intervals lasting at least minDuration.
func Visits(intervals []models.StayInterval, minDuration time.Duration) []models.StayInterval {
	var out []models.StayInterval
	for _, iv := range intervals {
		if iv.PlaceKey != nil && iv.Duration >= minDuration {
			out = append(out, iv)
		}
	}
	return out
}

// Timeline returns every interval overlapping [from, to], clipped to it.
// Zero bounds are open.
func Timeline(intervals []models.StayInterval, from, to time.Time) []models.StayInterval {
	var out []models.StayInterval
	for _, iv := range intervals {
		if !to.IsZero() && iv.StartDate.After(to) {
			continue
		}
		if !from.IsZero() && iv.EndDate.Before(from) {
			continue
		}
		if !from.IsZero() && iv.StartDate.Before(from) {
			iv.StartDate = from
		}
		if !to.IsZero() && iv.EndDate.After(to) {
			iv.EndDate = to
		}
		iv.Duration = iv.EndDate.Sub(iv.StartDate)
		iv.DurationSeconds = iv.Duration.Seconds()
		out = append(out, iv)
	}
	return out
}

// PlaceSummary totals the visits to one place key.
type PlaceSummary struct {
	PlaceKey      string        `json:"place_key"`
	Visits        int           `json:"visits"`
	Total         time.Duration `json:"-"`
	TotalSeconds  float64       `json:"total_seconds"`
	FirstVisit    time.Time     `json:"first_visit"`
	LastVisitEnds time.Time     `json:"last_visit_ends"`
}

// Summarize groups visits by place key, longest total first.
func Summarize(visits []models.StayInterval) []PlaceSummary {
	byKey := make(map[string]*PlaceSummary)
	var order []string
	for _, iv := range visits {
		if iv.PlaceKey == nil {
			continue
		}
		s, ok := byKey[*iv.PlaceKey]
		if !ok {
			s = &PlaceSummary{PlaceKey: *iv.PlaceKey, FirstVisit: iv.StartDate}
			byKey[*iv.PlaceKey] = s
			order = append(order, *iv.PlaceKey)
		}
		s.Visits++
		s.Total += iv.Duration
		if iv.StartDate.Before(s.FirstVisit) {
			s.FirstVisit = iv.StartDate
		}
		s.LastVisitEnds = later(s.LastVisitEnds, iv.EndDate)
	}

	out := make([]PlaceSummary, len(order))
	for i, k := range order {
		out[i] = *byKey[k]
		out[i].TotalSeconds = out[i].Total.Seconds()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}
