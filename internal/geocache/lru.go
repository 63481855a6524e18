// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package geocache

import "sync"

// blobLRU keeps recently read, already decompressed blobs keyed by object
// key. Object keys are never reused, so entries never go stale and there is
// no expiry; only capacity eviction.
//
// A doubly-linked list orders entries by recency, head.next being the most
// recent, and a map gives O(1) lookup.
type blobLRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruEntry
	head     *lruEntry
	tail     *lruEntry
}

type lruEntry struct {
	key        string
	value      []byte
	prev, next *lruEntry
}

func newBlobLRU(capacity int) *blobLRU {
	l := &blobLRU{
		capacity: capacity,
		items:    make(map[string]*lruEntry, max(capacity, 0)),
		head:     &lruEntry{},
		tail:     &lruEntry{},
	}
	l.head.next = l.tail
	l.tail.prev = l.head
	return l
}

// get returns the blob and marks it most recently used. A nil receiver or a
// zero capacity always misses.
func (l *blobLRU) get(key string) ([]byte, bool) {
	if l == nil || l.capacity <= 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.unlink(e)
	l.pushFront(e)
	return e.value, true
}

func (l *blobLRU) add(key string, value []byte) {
	if l == nil || l.capacity <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.items[key]; ok {
		e.value = value
		l.unlink(e)
		l.pushFront(e)
		return
	}
	e := &lruEntry{key: key, value: value}
	l.pushFront(e)
	l.items[key] = e

	for len(l.items) > l.capacity {
		oldest := l.tail.prev
		l.unlink(oldest)
		delete(l.items, oldest.key)
	}
}

func (l *blobLRU) len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *blobLRU) pushFront(e *lruEntry) {
	e.prev = l.head
	e.next = l.head.next
	l.head.next.prev = e
	l.head.next = e
}

func (l *blobLRU) unlink(e *lruEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}
