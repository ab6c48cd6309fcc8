package core

import (
	"container/list"
	"fmt"
)

// DedupChecker implements two-tier deduplication of chain logs: a hot
// in-memory LRU over txHash:logIndex keys and a cold lookup against the
// persisted event log. A log replayed by the delivery layer (NATS
// redelivery, host restart, chain re-stream) must be applied exactly once.
type DedupChecker struct {
	lru *dedupLRU

	// Tier 2: persisted event log (injected via interface)
	dbChecker DBDedupChecker

	tier2Errors int64
}

// DBDedupChecker is the interface for the persistent dedup lookup.
type DBDedupChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewDedupChecker(capacity int, dbChecker DBDedupChecker) *DedupChecker {
	return &DedupChecker{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks whether a log has been processed (two-tier lookup).
func (dc *DedupChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", eventType, idempotencyKey)

	if dc.lru.contains(compositeKey) {
		return true
	}

	if dc.dbChecker != nil {
		isDup, err := dc.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Conservative: a DB error is not evidence of a duplicate, and
			// must not block event processing.
			dc.tier2Errors++
			return false
		}
		if isDup {
			dc.lru.add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed records a key after successful processing.
func (dc *DedupChecker) MarkProcessed(eventType string, idempotencyKey string) {
	dc.lru.add(fmt.Sprintf("%s:%s", eventType, idempotencyKey))
}

// WarmFromKeys preloads composite keys recovered from a snapshot so recent
// logs skip the cold-path DB lookup after restart.
func (dc *DedupChecker) WarmFromKeys(keys []string) {
	for _, key := range keys {
		dc.lru.add(key)
	}
}

// RecentKeys returns up to n most-recently-used composite keys, newest
// first. Used when snapshotting.
func (dc *DedupChecker) RecentKeys(n int) []string {
	return dc.lru.recent(n)
}

// Size returns the LRU entry count.
func (dc *DedupChecker) Size() int {
	return dc.lru.size()
}

// --- LRU ---

// dedupLRU backs the hot tier.
// Not thread-safe — only accessed from the single-threaded projector.
type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *dedupLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *dedupLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(key)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		if oldest != nil {
			lru.lruList.Remove(oldest)
			delete(lru.cache, oldest.Value.(string))
		}
	}
}

func (lru *dedupLRU) recent(n int) []string {
	out := make([]string, 0, n)
	for elem := lru.lruList.Front(); elem != nil && len(out) < n; elem = elem.Next() {
		out = append(out, elem.Value.(string))
	}
	return out
}

func (lru *dedupLRU) size() int {
	return lru.lruList.Len()
}
