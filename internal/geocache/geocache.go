// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package geocache caches external API responses by request fingerprint and
// an event-time validity window, optionally narrowed by distance.
//
// Response blobs live gzipped in the object store under
// cache/{provider}/{uuid}.json.gz; cache_entries rows index them. Set writes
// the blob before the row. Any storage fault during Get is logged and
// reported as a miss so the caller falls through to a live call.
package geocache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/waymark/internal/database"
	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/logging"
	"github.com/tomtom215/waymark/internal/metrics"
	"github.com/tomtom215/waymark/internal/models"
	"github.com/tomtom215/waymark/internal/objectstore"
)

// DefaultMemoryEntries bounds the in-process blob memo of each cache.
const DefaultMemoryEntries = 512

// Options configures a cache.
type Options struct {
	Provider string
	Bucket   string
	// Window is the half-width W of the validity window [eventAt-W, eventAt+W].
	Window time.Duration
	// RadiusKm is the proximity bound of location-windowed caches.
	RadiusKm float64
	// MemoryEntries caps the decompressed-blob memo. Zero uses
	// DefaultMemoryEntries; negative disables it.
	MemoryEntries int
}

// Cache maps requests of type Req to responses of type Resp.
type Cache[Req, Resp any] struct {
	provider string
	bucket   string
	window   time.Duration
	radiusKm float64
	located  bool
	keyFn    KeyFunc[Req]
	store    objectstore.Store
	memo     *blobLRU
	log      zerolog.Logger
}

// NewTimeWindowed creates a cache whose entries match on key and event time
// only. Spatial slack, if any, belongs in keyFn (for example a grid cell id).
func NewTimeWindowed[Req, Resp any](store objectstore.Store, opts Options, keyFn KeyFunc[Req]) *Cache[Req, Resp] {
	return newCache[Req, Resp](store, opts, keyFn, false)
}

// NewLocationWindowed creates a cache whose entries additionally require the
// stored point to lie within opts.RadiusKm of the requested point.
func NewLocationWindowed[Req, Resp any](store objectstore.Store, opts Options, keyFn KeyFunc[Req]) *Cache[Req, Resp] {
	return newCache[Req, Resp](store, opts, keyFn, true)
}

func newCache[Req, Resp any](store objectstore.Store, opts Options, keyFn KeyFunc[Req], located bool) *Cache[Req, Resp] {
	entries := opts.MemoryEntries
	if entries == 0 {
		entries = DefaultMemoryEntries
	}
	return &Cache[Req, Resp]{
		provider: opts.Provider,
		bucket:   opts.Bucket,
		window:   opts.Window,
		radiusKm: opts.RadiusKm,
		located:  located,
		keyFn:    keyFn,
		store:    store,
		memo:     newBlobLRU(entries),
		log:      logging.WithComponent("geocache").With().Str("provider", opts.Provider).Logger(),
	}
}

// Provider returns the provider tag of the cache.
func (c *Cache[Req, Resp]) Provider() string {
	return c.provider
}

// Key returns the cache key of req.
func (c *Cache[Req, Resp]) Key(req Req) (string, error) {
	return Fingerprint(c.keyFn(req))
}

// Get returns the cached response whose window contains eventAt and, for
// location-windowed caches, whose point is within the radius of point. When
// several entries qualify the one with the closest event time wins. The
// second result is false on a miss or any fault.
func (c *Cache[Req, Resp]) Get(ctx context.Context, q database.Querier, req Req, eventAt time.Time, point *geo.Point) (Resp, bool) {
	var zero Resp

	key, err := c.Key(req)
	if err != nil {
		c.fault("key", err)
		return zero, false
	}

	var box *geo.BBox
	if c.located {
		if point == nil {
			c.fault("get", fmt.Errorf("location-windowed lookup without a point"))
			return zero, false
		}
		b := geo.Around(*point, c.radiusKm)
		box = &b
	}

	candidates, err := database.CacheCandidates(ctx, q, c.provider, key, eventAt, box)
	if err != nil {
		c.fault("index", err)
		return zero, false
	}

	best := c.pick(candidates, eventAt, point)
	if best == nil {
		metrics.CacheMisses.WithLabelValues(c.provider).Inc()
		return zero, false
	}

	data, err := c.load(ctx, best.ObjectKey)
	if err != nil {
		c.fault("blob", err)
		return zero, false
	}

	var resp Resp
	if err := json.Unmarshal(data, &resp); err != nil {
		c.fault("decode", fmt.Errorf("decode %s: %w", best.ObjectKey, err))
		return zero, false
	}

	metrics.CacheHits.WithLabelValues(c.provider).Inc()
	return resp, true
}

func (c *Cache[Req, Resp]) pick(candidates []models.CacheIndexEntry, eventAt time.Time, point *geo.Point) *models.CacheIndexEntry {
	var (
		best     *models.CacheIndexEntry
		bestDiff = time.Duration(math.MaxInt64)
	)
	for i := range candidates {
		e := &candidates[i]
		if !e.Contains(eventAt) {
			continue
		}
		if c.located {
			if e.Latitude == nil || e.Longitude == nil {
				continue
			}
			if geo.Distance(*point, geo.Point{Lat: *e.Latitude, Lon: *e.Longitude}) > c.radiusKm {
				continue
			}
		}
		diff := e.EventAt.Sub(eventAt)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = e, diff
		}
	}
	return best
}

// Set stores resp for req at eventAt. Location-windowed caches require point.
// The blob is written before the index row.
func (c *Cache[Req, Resp]) Set(ctx context.Context, q database.Querier, req Req, resp Resp, eventAt time.Time, point *geo.Point, fetchedAt time.Time) error {
	if c.located && point == nil {
		return fmt.Errorf("geocache %s: set without a point", c.provider)
	}

	key, err := c.Key(req)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("geocache %s: encode response: %w", c.provider, err)
	}
	blob, err := compress(raw)
	if err != nil {
		return fmt.Errorf("geocache %s: %w", c.provider, err)
	}

	objectKey := ObjectKey(c.provider)
	if err := c.store.Put(ctx, c.bucket, objectKey, blob); err != nil {
		metrics.CacheErrors.WithLabelValues(c.provider, "put").Inc()
		return fmt.Errorf("geocache %s: put blob: %w", c.provider, err)
	}

	entry := &models.CacheIndexEntry{
		CacheKey:  key,
		Provider:  c.provider,
		ObjectKey: objectKey,
		ValidFrom: eventAt.Add(-c.window),
		ValidTo:   eventAt.Add(c.window),
		FetchedAt: fetchedAt,
		EventAt:   eventAt,
	}
	if point != nil && c.located {
		lat, lon := point.Lat, point.Lon
		entry.Latitude, entry.Longitude = &lat, &lon
	}
	if _, err := database.InsertCacheEntry(ctx, q, entry); err != nil {
		return fmt.Errorf("geocache %s: %w", c.provider, err)
	}

	c.memo.add(objectKey, raw)
	return nil
}

// ObjectKey returns a fresh object store key for a provider's blob.
func ObjectKey(provider string) string {
	return "cache/" + provider + "/" + uuid.NewString() + ".json.gz"
}

func (c *Cache[Req, Resp]) load(ctx context.Context, objectKey string) ([]byte, error) {
	if data, ok := c.memo.get(objectKey); ok {
		return data, nil
	}
	blob, err := c.store.Get(ctx, c.bucket, objectKey)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", objectKey, err)
	}
	data, err := decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", objectKey, err)
	}
	c.memo.add(objectKey, data)
	return data, nil
}

func (c *Cache[Req, Resp]) fault(op string, err error) {
	metrics.CacheErrors.WithLabelValues(c.provider, op).Inc()
	metrics.CacheMisses.WithLabelValues(c.provider).Inc()
	c.log.Warn().Err(err).Str("op", op).Msg("Cache fault, treating as miss")
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return data, nil
}
