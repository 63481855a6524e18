// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package geocache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
)

// KeyFunc selects the request fields that identify a cached response.
// Coordinates and dates must be left out: they are matched by the validity
// window and proximity check instead. The returned value is hashed through
// its JSON encoding, so use structs or maps (maps encode with sorted keys).
type KeyFunc[Req any] func(req Req) any

// Fingerprint hashes the canonical JSON form of v.
func Fingerprint(v any) (string, error) {
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
