// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package stays collapses a time-ordered, place-tagged point stream into
// stay intervals.
//
// Segment works on points in memory; Query runs the same algorithm inside
// DuckDB over location_points. Both produce identical intervals: a run of
// consecutive points sharing a place key lasts until the next run starts,
// and runs shorter than the minimum duration are merged into a nil-keyed
// span representing transit.
package stays

import (
	"context"
	"sort"
	"time"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/models"
)

type run struct {
	key        *string
	start, end time.Time
	velSum     float64
	velN       int64
}

// Segment computes stay intervals over points. The input need not be
// sorted; ties on Timestamp are broken by ID. The last run has no successor
// and ends at its own last point, so a single trailing point yields a
// zero-duration interval.
func Segment(points []models.StayPoint, minDuration time.Duration) []models.StayInterval {
	if len(points) == 0 {
		return nil
	}

	pts := make([]models.StayPoint, len(points))
	copy(pts, points)
	sort.SliceStable(pts, func(i, j int) bool {
		if !pts[i].Timestamp.Equal(pts[j].Timestamp) {
			return pts[i].Timestamp.Before(pts[j].Timestamp)
		}
		return pts[i].ID < pts[j].ID
	})

	var runs []run
	for i, p := range pts {
		end := p.Timestamp
		if i+1 < len(pts) {
			end = pts[i+1].Timestamp
		}
		if n := len(runs); n > 0 && sameKey(runs[n-1].key, p.PlaceKey) {
			runs[n-1].extend(end, p.Velocity)
			continue
		}
		r := run{key: p.PlaceKey, start: p.Timestamp, end: end}
		r.addVelocity(p.Velocity)
		runs = append(runs, r)
	}

	var merged []run
	for _, r := range runs {
		if r.end.Sub(r.start) < minDuration {
			r.key = nil
		}
		if n := len(merged); n > 0 && sameKey(merged[n-1].key, r.key) {
			m := &merged[n-1]
			m.end = later(m.end, r.end)
			m.velSum += r.velSum
			m.velN += r.velN
			continue
		}
		merged = append(merged, r)
	}

	out := make([]models.StayInterval, len(merged))
	for i, r := range merged {
		out[i] = r.interval()
	}
	return out
}

func (r *run) extend(end time.Time, velocity *float64) {
	r.end = later(r.end, end)
	r.addVelocity(velocity)
}

func (r *run) addVelocity(v *float64) {
	if v != nil {
		r.velSum += *v
		r.velN++
	}
}

func (r *run) interval() models.StayInterval {
	iv := models.StayInterval{
		PlaceKey:  r.key,
		StartDate: r.start,
		EndDate:   r.end,
		Duration:  r.end.Sub(r.start),
	}
	iv.DurationSeconds = iv.Duration.Seconds()
	if r.velN > 0 {
		avg := r.velSum / float64(r.velN)
		iv.AverageVelocity = &avg
	}
	return iv
}

func sameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Query segments the points stored in the database.
func Query(ctx context.Context, q database.Querier, sq database.StayQuery) ([]models.StayInterval, error) {
	return database.QueryStays(ctx, q, sq)
}
