// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waymark/internal/logging"
)

// Error codes carried in Error.Code.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeConflict    = "CONFLICT"
	CodeRateLimited = "RATE_LIMITED"
	CodeNotFound    = "NOT_FOUND"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status string `json:"status"` // "success" or "error"
	Data   any    `json:"data,omitempty"`
	Meta   Meta   `json:"meta"`
	Error  *Error `json:"error,omitempty"`
}

// Meta describes the reply.
type Meta struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
	Count       *int      `json:"count,omitempty"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// Error is the error block of a failed reply.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, resp *Response) {
	resp.Meta.Timestamp = time.Now().UTC()
	resp.Meta.RequestID = logging.CorrelationIDFromContext(r.Context())

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// respondData writes a success envelope. count is set for list payloads.
func respondData(w http.ResponseWriter, r *http.Request, status int, data any, count *int, started time.Time) {
	resp := &Response{Status: "success", Data: data, Meta: Meta{Count: count}}
	if !started.IsZero() {
		resp.Meta.QueryTimeMS = time.Since(started).Milliseconds()
	}
	writeJSON(w, r, status, resp)
}

// respondError writes an error envelope. err, when set, is logged and never
// sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Error().
			Str("code", code).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}
	writeJSON(w, r, status, &Response{Status: "error", Error: &Error{Code: code, Message: message}})
}

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func count(n int) *int { return &n }
