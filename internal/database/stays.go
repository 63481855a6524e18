// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/waymark/internal/models"
)

// StayQuery parameterizes QueryStays.
type StayQuery struct {
	Key         models.PlaceKey
	MaxAccuracy float64 // points with accuracy above this are dropped; NULL accuracy is kept
	From, To    *time.Time
	MinDuration time.Duration
}

var placeKeyExpr = map[models.PlaceKey]string{
	models.PlaceKeyPlace:   "CAST(p.place_detail_id AS VARCHAR)",
	models.PlaceKeyCity:    "d.city",
	models.PlaceKeyCountry: "d.country",
}

// QueryStays runs two rounds of gap-and-islands over location_points.
//
// Round one numbers points globally and per place key by (recorded_at, id);
// the difference of the two numbers is constant along a run of equal keys.
// A run ends where the next run begins (the last run ends at its own last
// point). Round two repeats the trick over runs, with runs shorter than
// MinDuration re-keyed to NULL so short blips merge into one NULL span.
// A merged span can only carry a key when every run in it shared that key,
// so the round-two key is the final key.
func QueryStays(ctx context.Context, q Querier, sq StayQuery) ([]models.StayInterval, error) {
	keyExpr, ok := placeKeyExpr[sq.Key]
	if !ok {
		return nil, fmt.Errorf("query stays: unknown place key %q", sq.Key)
	}

	where := []string{"(p.accuracy IS NULL OR p.accuracy <= ?)"}
	args := []any{sq.MaxAccuracy}
	if sq.From != nil {
		where = append(where, "p.recorded_at >= ?")
		args = append(args, sq.From.UTC())
	}
	if sq.To != nil {
		where = append(where, "p.recorded_at <= ?")
		args = append(args, sq.To.UTC())
	}
	args = append(args, sq.MinDuration.Microseconds())

	query := `
WITH pts AS (
	SELECT p.id, p.recorded_at AS ts, ` + keyExpr + ` AS place_key, p.velocity
	FROM location_points p
	LEFT JOIN place_details d ON d.id = p.place_detail_id
	WHERE ` + strings.Join(where, " AND ") + `
),
numbered AS (
	SELECT *,
		row_number() OVER (ORDER BY ts, id) AS gseq,
		row_number() OVER (ORDER BY ts, id)
			- row_number() OVER (PARTITION BY place_key ORDER BY ts, id) AS island,
		lead(ts) OVER (ORDER BY ts, id) AS next_ts
	FROM pts
),
runs AS (
	SELECT place_key,
		min(gseq) AS first_seq,
		min(ts) AS start_ts,
		max(coalesce(next_ts, ts)) AS end_ts,
		sum(velocity) AS velocity_sum,
		CAST(count(velocity) AS BIGINT) AS velocity_n
	FROM numbered
	GROUP BY place_key, island
),
rekeyed AS (
	SELECT *,
		CASE WHEN date_diff('microsecond', start_ts, end_ts) >= ? THEN place_key END AS key2
	FROM runs
),
renumbered AS (
	SELECT *,
		row_number() OVER (ORDER BY first_seq)
			- row_number() OVER (PARTITION BY key2 ORDER BY first_seq) AS island2
	FROM rekeyed
)
SELECT key2,
	min(start_ts) AS start_ts,
	max(end_ts) AS end_ts,
	sum(velocity_sum) AS velocity_sum,
	CAST(sum(velocity_n) AS BIGINT) AS velocity_n
FROM renumbered
GROUP BY key2, island2
ORDER BY min(first_seq)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stays: %w", err)
	}
	defer closeWithLog(rows, "stay rows")

	var out []models.StayInterval
	for rows.Next() {
		var (
			iv     models.StayInterval
			velSum *float64
			velN   *int64
		)
		if err := rows.Scan(&iv.PlaceKey, &iv.StartDate, &iv.EndDate, &velSum, &velN); err != nil {
			return nil, fmt.Errorf("scan stay: %w", err)
		}
		iv.Duration = iv.EndDate.Sub(iv.StartDate)
		iv.DurationSeconds = iv.Duration.Seconds()
		if velSum != nil && velN != nil && *velN > 0 {
			avg := *velSum / float64(*velN)
			iv.AverageVelocity = &avg
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
