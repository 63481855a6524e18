// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package services adapts Waymark's loops to suture.Service.
//
// Every Serve blocks until its context is canceled and then returns
// ctx.Err(), which suture treats as a clean stop. Any other return is a
// failure and the service is restarted under the tree's backoff policy.
package services
