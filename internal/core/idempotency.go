package core

import (
	"MangoCache/internal/event"
	"MangoCache/internal/observability"
	"container/list"
	"time"

	"github.com/rs/zerolog"
)

// DBIdempotencyChecker looks an event up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates events in two tiers: an in-memory LRU of
// recently applied keys, then the event log in Postgres.
//
// Not thread-safe; only the engine's writer goroutine touches it.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger

	tier2Errors int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

// IsDuplicate reports whether evt was already applied.
// A failing database lookup counts as "not seen"; record-level timestamp
// checks still reject stale replays.
func (ic *IdempotencyChecker) IsDuplicate(evt event.Event) bool {
	key := dedupKey{eventType: evt.EventType(), key: evt.IdempotencyKey()}

	if ic.lru.Contains(key) {
		ic.recordDuplicate(key.eventType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(key.eventType.String(), key.key)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		ic.tier2Errors++
		ic.logger.Warn().Err(err).Str("key", key.key).Msg("postgres dedup lookup failed")
		return false
	}
	if isDup {
		ic.recordDuplicate(key.eventType, "postgres")
		ic.add(key)
		return true
	}
	return false
}

// MarkProcessed remembers evt after it was applied.
func (ic *IdempotencyChecker) MarkProcessed(evt event.Event) {
	ic.add(dedupKey{eventType: evt.EventType(), key: evt.IdempotencyKey()})
}

// Warm preloads keys read back from the event log on restart.
func (ic *IdempotencyChecker) Warm(keys []LoggedKey) {
	for _, k := range keys {
		ic.add(dedupKey{eventType: k.EventType, key: k.IdempotencyKey})
	}
}

// Tier2Errors returns how many database lookups failed.
func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

func (ic *IdempotencyChecker) add(key dedupKey) {
	evicted := ic.lru.Add(key)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

func (ic *IdempotencyChecker) recordDuplicate(et event.EventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(et.String(), tier).Inc()
	}
}

// LoggedKey is one dedup key read from the event log.
type LoggedKey struct {
	EventType      event.EventType
	IdempotencyKey string
}

// --- LRU ---

type dedupKey struct {
	eventType event.EventType
	key       string
}

// IdempotencyLRU is a fixed-capacity set of recently seen keys.
type IdempotencyLRU struct {
	capacity int
	entries  map[dedupKey]*list.Element
	order    *list.List // front = most recent

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		entries:  make(map[dedupKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains checks membership and promotes a hit.
func (lru *IdempotencyLRU) Contains(key dedupKey) bool {
	elem, ok := lru.entries[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts or promotes key and reports whether an entry was evicted.
func (lru *IdempotencyLRU) Add(key dedupKey) bool {
	if elem, ok := lru.entries[key]; ok {
		lru.order.MoveToFront(elem)
		return false
	}

	lru.entries[key] = lru.order.PushFront(key)
	if lru.order.Len() <= lru.capacity {
		return false
	}

	oldest := lru.order.Back()
	lru.order.Remove(oldest)
	delete(lru.entries, oldest.Value.(dedupKey))
	lru.evictions++
	return true
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
