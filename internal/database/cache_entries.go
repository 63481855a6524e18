// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/models"
)

// InsertCacheEntry appends a cache index row and returns its id.
func InsertCacheEntry(ctx context.Context, q Querier, e *models.CacheIndexEntry) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO cache_entries (
			cache_key, provider, object_key, valid_from, valid_to,
			fetched_at, event_at, latitude, longitude
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		e.CacheKey, e.Provider, e.ObjectKey, e.ValidFrom.UTC(), e.ValidTo.UTC(),
		e.FetchedAt.UTC(), e.EventAt.UTC(), nullable(e.Latitude), nullable(e.Longitude),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert cache entry: %w", err)
	}
	return id, nil
}

// CacheCandidates returns index rows for (provider, cacheKey) whose validity
// window contains eventAt. When box is non-nil only rows whose stored point
// falls inside it are returned; callers apply the exact distance check.
func CacheCandidates(ctx context.Context, q Querier, provider, cacheKey string, eventAt time.Time, box *geo.BBox) ([]models.CacheIndexEntry, error) {
	query := `
		SELECT id, cache_key, provider, object_key, valid_from, valid_to,
			fetched_at, event_at, latitude, longitude
		FROM cache_entries
		WHERE provider = ? AND cache_key = ? AND valid_from <= ? AND valid_to >= ?`
	at := eventAt.UTC()
	args := []any{provider, cacheKey, at, at}

	if box != nil {
		inBox, boxArgs := boxPredicate(*box)
		query += ` AND ` + inBox
		args = append(args, boxArgs...)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select cache candidates: %w", err)
	}
	defer closeWithLog(rows, "cache entry rows")

	var out []models.CacheIndexEntry
	for rows.Next() {
		var e models.CacheIndexEntry
		if err := rows.Scan(&e.ID, &e.CacheKey, &e.Provider, &e.ObjectKey, &e.ValidFrom, &e.ValidTo,
			&e.FetchedAt, &e.EventAt, &e.Latitude, &e.Longitude); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountCacheEntries counts index rows for a provider.
func CountCacheEntries(ctx context.Context, q Querier, provider string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM cache_entries WHERE provider = ?`, provider).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
