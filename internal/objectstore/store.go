// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package objectstore stores opaque blobs under (bucket, key) pairs.
//
// The store has no transactional relationship with the relational database.
// Writers that index blobs from the database must Put before they insert the
// index row; an orphaned blob is harmless, a dangling index row is not.
package objectstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no blob exists for the key.
var ErrNotFound = errors.New("objectstore: not found")

// Store is a minimal bucketed blob store.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

func fullKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

// MemoryStore is a map-backed Store for tests and throwaway runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of data.
func (s *MemoryStore) Put(_ context.Context, bucket, key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.blobs[string(fullKey(bucket, key))] = buf
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored blob.
func (s *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[string(fullKey(bucket, key))]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
