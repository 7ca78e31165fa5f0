package core

import (
	"MangoCache/internal/event"
	"MangoCache/internal/observability"
	"MangoCache/internal/state"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrListingMismatch = errors.New("listing slot mismatch")
	ErrHashMismatch    = errors.New("state hash mismatch")
	ErrUnknownEvent    = errors.New("unknown event")
)

// CacheEngine owns the MangoCache. A single goroutine applies events
// through ProcessEvent; any number of readers take consistent copies
// through View and CheckFreshness.
//
// Each event is applied to a private copy of the cache which replaces the
// live cache only on success, so a rejected event leaves no trace and a
// reader never sees half of a record.
type CacheEngine struct {
	mu       sync.RWMutex
	cache    state.MangoCache
	sequence int64 // next sequence to assign
	hasher   *StateHasher

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// CoreOutput is one applied event on its way to the event log and NATS.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
}

type EngineConfig struct {
	StartSequence int64
	DedupCapacity int
	DBChecker     DBIdempotencyChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	// PersistChan gets a blocking send per applied event. May be nil.
	PersistChan chan<- CoreOutput
	// PublishChan gets a non-blocking send; events are dropped when full. May be nil.
	PublishChan chan<- CoreOutput
}

func NewCacheEngine(cfg EngineConfig) *CacheEngine {
	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 100_000
	}

	return &CacheEngine{
		cache:       *state.NewMangoCache(),
		sequence:    cfg.StartSequence,
		hasher:      NewStateHasher(),
		idempotency: NewIdempotencyChecker(capacity, cfg.DBChecker, cfg.Metrics, cfg.Logger),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// ProcessEvent applies one event. Duplicates are skipped and return nil.
// Rejected events return the wrapped state error and change nothing.
func (c *CacheEngine) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()

	if c.idempotency.IsDuplicate(evt) {
		c.reject(eventType, "duplicate")
		c.logger.Debug().Str("key", evt.IdempotencyKey()).Msg("duplicate event skipped")
		return nil
	}

	payload, err := event.EncodePayload(evt)
	if err != nil {
		c.reject(eventType, "encode")
		return err
	}

	envelope, next, err := c.apply(evt, nil)
	if err != nil {
		reason := rejectReason(err)
		c.reject(eventType, reason)
		c.logger.Warn().
			Err(err).
			Str("event_type", eventType).
			Str("partition", evt.Partition()).
			Uint64("timestamp", evt.EventTimestamp()).
			Str("reason", reason).
			Msg("event rejected")
		return fmt.Errorf("apply %s: %w", eventType, err)
	}
	envelope.Payload = payload

	output := CoreOutput{Envelope: envelope, Event: evt}
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.publishChan != nil {
		select {
		case c.publishChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(evt)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(envelope.Sequence))
		c.recordGauges(evt, &next)
	}
	return nil
}

// ReplayEvent re-applies an envelope read back from the event log during
// warm start. The recomputed state hash must match the logged one.
func (c *CacheEngine) ReplayEvent(env *event.EventEnvelope) error {
	evt, err := event.DecodePayload(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	c.mu.Lock()
	if env.Sequence != c.sequence {
		c.mu.Unlock()
		return fmt.Errorf("replay seq %d: expected sequence %d", env.Sequence, c.sequence)
	}
	c.mu.Unlock()

	if _, _, err := c.apply(evt, &env.StateHash); err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	c.idempotency.MarkProcessed(evt)
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
		c.metrics.CoreSequence.Set(float64(env.Sequence))
	}
	return nil
}

// apply runs evt against a copy of the cache and swaps it in on success.
// When expect is set the resulting state hash must equal it.
func (c *CacheEngine) apply(evt event.Event, expect *[32]byte) (*event.EventEnvelope, state.MangoCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cache
	if err := applyEvent(&next, evt); err != nil {
		return nil, state.MangoCache{}, err
	}

	hashStart := time.Now()
	image, err := next.MarshalBinary()
	if err != nil {
		return nil, state.MangoCache{}, err
	}
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, image)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}
	if expect != nil && stateHash != *expect {
		c.hasher.Reset(prevHash)
		return nil, state.MangoCache{}, ErrHashMismatch
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Partition:      evt.Partition(),
		Timestamp:      evt.EventTimestamp(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	c.cache = next
	c.sequence++
	return envelope, next, nil
}

func applyEvent(cache *state.MangoCache, evt event.Event) error {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return cache.ApplyPrice(e.Slot, e.Price, e.Timestamp)

	case *event.RootBankAccrual:
		return cache.ApplyRootBank(e.Slot, e.DepositIndex, e.BorrowIndex, e.Timestamp)

	case *event.PerpFundingUpdate:
		return cache.ApplyPerpMarket(e.Slot, e.LongFunding, e.ShortFunding, e.Timestamp)

	case *event.PairListed:
		if e.Slot != cache.NumPairs() {
			return fmt.Errorf("%w: pair %d requested, next is %d", ErrListingMismatch, e.Slot, cache.NumPairs())
		}
		_, err := cache.ListPair(e.WithPerp)
		return err

	case *event.TokenListed:
		if e.Slot != cache.NumTokens() {
			return fmt.Errorf("%w: token %d requested, next is %d", ErrListingMismatch, e.Slot, cache.NumTokens())
		}
		_, err := cache.ListToken()
		return err

	case *event.PerpMarketEnabled:
		return cache.EnablePerpMarket(e.Slot)

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, state.ErrInvalidIndex):
		return "invalid_index"
	case errors.Is(err, state.ErrOutOfOrderUpdate):
		return "out_of_order"
	case errors.Is(err, state.ErrSlotNotListed):
		return "slot_not_listed"
	case errors.Is(err, state.ErrSlotOutOfBounds):
		return "slot_out_of_bounds"
	case errors.Is(err, state.ErrSlotsExhausted):
		return "slots_exhausted"
	case errors.Is(err, ErrListingMismatch):
		return "listing_mismatch"
	default:
		return "other"
	}
}

func (c *CacheEngine) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *CacheEngine) recordGauges(evt event.Event, cache *state.MangoCache) {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		slot := strconv.Itoa(e.Slot)
		r := cache.PriceCache[e.Slot]
		c.metrics.RecordLastUpdate.WithLabelValues("price", slot).Set(float64(r.LastUpdate))
		c.metrics.RecordValue.WithLabelValues("price", slot, "price").Set(r.Price.Float64())
	case *event.RootBankAccrual:
		slot := strconv.Itoa(e.Slot)
		r := cache.RootBankCache[e.Slot]
		c.metrics.RecordLastUpdate.WithLabelValues("root_bank", slot).Set(float64(r.LastUpdate))
		c.metrics.RecordValue.WithLabelValues("root_bank", slot, "deposit_index").Set(r.DepositIndex.Float64())
		c.metrics.RecordValue.WithLabelValues("root_bank", slot, "borrow_index").Set(r.BorrowIndex.Float64())
	case *event.PerpFundingUpdate:
		slot := strconv.Itoa(e.Slot)
		r := cache.PerpMarketCache[e.Slot]
		c.metrics.RecordLastUpdate.WithLabelValues("perp_market", slot).Set(float64(r.LastUpdate))
		c.metrics.RecordValue.WithLabelValues("perp_market", slot, "long_funding").Set(r.LongFunding.Float64())
		c.metrics.RecordValue.WithLabelValues("perp_market", slot, "short_funding").Set(r.ShortFunding.Float64())
	default:
		c.recordListing(cache)
	}
}

func (c *CacheEngine) recordListing(cache *state.MangoCache) {
	perps := 0
	for i := 0; i < cache.NumPairs(); i++ {
		if cache.IsPerpListed(i) {
			perps++
		}
	}
	c.metrics.ListedSlots.WithLabelValues("pair").Set(float64(cache.NumPairs()))
	c.metrics.ListedSlots.WithLabelValues("perp_market").Set(float64(perps))
	c.metrics.ListedSlots.WithLabelValues("token").Set(float64(cache.NumTokens()))
}

// --- Reads ---

// View returns a copy of the cache as of the last applied event.
func (c *CacheEngine) View() state.MangoCache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

// CheckFreshness runs the staleness check against the live cache.
func (c *CacheEngine) CheckFreshness(req state.RequiredSet, now, maxAge uint64) error {
	c.mu.RLock()
	err := c.cache.CheckFreshness(req, now, maxAge)
	c.mu.RUnlock()

	if c.metrics == nil {
		return err
	}

	var stale *state.StaleDataError
	switch {
	case err == nil:
		c.metrics.FreshnessChecks.WithLabelValues("fresh").Inc()
	case errors.As(err, &stale):
		c.metrics.FreshnessChecks.WithLabelValues("stale").Inc()
		for _, r := range stale.Records {
			c.metrics.StaleRecords.WithLabelValues(r.Kind.String()).Inc()
			c.metrics.StaleRecordAge.WithLabelValues(r.Kind.String()).Observe(float64(r.Age))
		}
	default:
		c.metrics.FreshnessChecks.WithLabelValues("error").Inc()
	}
	return err
}

// GetSequence returns the sequence of the last applied event.
func (c *CacheEngine) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence - 1
}

// GetStateHash returns the current chain tip.
func (c *CacheEngine) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

// --- Snapshot ---

// SnapshotState is a point-in-time binary image of the cache.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	Image     []byte
}

// CreateSnapshotState captures the live cache.
func (c *CacheEngine) CreateSnapshotState() (*SnapshotState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	image, err := c.cache.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &SnapshotState{
		Sequence:  c.sequence - 1,
		StateHash: c.hasher.GetPrevHash(),
		Image:     image,
	}, nil
}

// RestoreFromSnapshot replaces the cache with a snapshot image. Replay
// resumes at snap.Sequence+1.
func (c *CacheEngine) RestoreFromSnapshot(snap *SnapshotState) error {
	var restored state.MangoCache
	if err := restored.UnmarshalBinary(snap.Image); err != nil {
		return fmt.Errorf("restore snapshot seq %d: %w", snap.Sequence, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = restored
	c.sequence = snap.Sequence + 1
	c.hasher.Reset(snap.StateHash)
	return nil
}

// WarmLRU loads recently logged keys into the dedup LRU.
func (c *CacheEngine) WarmLRU(keys []LoggedKey) {
	c.idempotency.Warm(keys)
}
