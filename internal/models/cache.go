// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package models

import "time"

// CacheIndexEntry points at one cached API response blob.
// ValidFrom <= EventAt <= ValidTo. Rows are append-only.
type CacheIndexEntry struct {
	ID        int64     `json:"id"`
	CacheKey  string    `json:"cache_key"`
	Provider  string    `json:"provider"`
	ObjectKey string    `json:"object_key"`
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	FetchedAt time.Time `json:"fetched_at"`
	EventAt   time.Time `json:"event_at"`
	Latitude  *float64  `json:"latitude,omitempty"`  // location-windowed entries only
	Longitude *float64  `json:"longitude,omitempty"` // location-windowed entries only
}

// Contains reports whether t falls inside the entry's validity window.
func (e *CacheIndexEntry) Contains(t time.Time) bool {
	return !t.Before(e.ValidFrom) && !t.After(e.ValidTo)
}
