// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package models

import (
	"fmt"
	"time"
)

// PlaceKey selects the column stays are grouped by.
type PlaceKey string

const (
	PlaceKeyPlace   PlaceKey = "place"   // place_details.id
	PlaceKeyCity    PlaceKey = "city"    // place_details.city
	PlaceKeyCountry PlaceKey = "country" // place_details.country
)

// ParsePlaceKey validates a user-supplied place key.
func ParsePlaceKey(s string) (PlaceKey, error) {
	switch k := PlaceKey(s); k {
	case PlaceKeyPlace, PlaceKeyCity, PlaceKeyCountry:
		return k, nil
	default:
		return "", fmt.Errorf("unknown place key %q", s)
	}
}

// StayPoint is the input to stay segmentation.
type StayPoint struct {
	ID        int64
	Timestamp time.Time
	PlaceKey  *string
	Velocity  *float64
}

// StayInterval is a derived, unpersisted run of points at one place.
// A nil PlaceKey means in transit or ambiguous.
type StayInterval struct {
	PlaceKey        *string       `json:"place_key"`
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	AverageVelocity *float64      `json:"average_velocity,omitempty"`
}
