package query

import (
	fpmath "MangoCache/internal/math"
	"MangoCache/internal/observability"
	"MangoCache/internal/state"
	"context"
	"errors"
	"fmt"
	"time"
)

// CacheSource is the live cache. *core.CacheEngine implements it.
type CacheSource interface {
	View() state.MangoCache
	GetSequence() int64
	CheckFreshness(req state.RequiredSet, now, maxAge uint64) error
}

// NodeBankSource lists the NodeBanks of a token.
// *persistence.NodeBankStore implements it.
type NodeBankSource interface {
	ListByToken(ctx context.Context, tokenSlot int) ([]state.NodeBank, error)
}

// QueryService answers read requests from in-memory cache copies. Record
// reads never check freshness; callers that need fresh data use
// CheckFreshness or NativeBalances.
type QueryService struct {
	cache         CacheSource
	banks         NodeBankSource
	defaultMaxAge uint64
	clock         func() uint64
	metrics       *observability.Metrics
}

type Option func(*QueryService)

// WithClock replaces the wall clock, in unix seconds.
func WithClock(clock func() uint64) Option {
	return func(qs *QueryService) { qs.clock = clock }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(qs *QueryService) { qs.metrics = m }
}

func NewQueryService(cache CacheSource, banks NodeBankSource, defaultMaxAge uint64, opts ...Option) *QueryService {
	qs := &QueryService{
		cache:         cache,
		banks:         banks,
		defaultMaxAge: defaultMaxAge,
		clock:         func() uint64 { return uint64(time.Now().Unix()) },
	}
	for _, opt := range opts {
		opt(qs)
	}
	return qs
}

// DefaultMaxAge is the max age applied when a request omits one.
func (qs *QueryService) DefaultMaxAge() uint64 {
	return qs.defaultMaxAge
}

// GetCache returns every listed record.
func (qs *QueryService) GetCache(ctx context.Context) (*CacheResponse, error) {
	defer qs.observe("get_cache", time.Now())

	seq := qs.cache.GetSequence()
	view := qs.cache.View()
	now := qs.clock()

	resp := &CacheResponse{
		NumPairs:     view.NumPairs(),
		NumTokens:    view.NumTokens(),
		Prices:       make([]PriceResponse, 0, view.NumPairs()),
		RootBanks:    make([]RootBankResponse, 0, view.NumTokens()),
		PerpMarkets:  []PerpMarketResponse{},
		AsOfSequence: seq,
	}
	for slot := 0; slot < view.NumPairs(); slot++ {
		resp.Prices = append(resp.Prices, priceResponse(slot, view.PriceCache[slot], now, seq))
		if view.IsPerpListed(slot) {
			resp.PerpMarkets = append(resp.PerpMarkets, perpMarketResponse(slot, view.PerpMarketCache[slot], now, seq))
		}
	}
	for slot := 0; slot < view.NumTokens(); slot++ {
		resp.RootBanks = append(resp.RootBanks, rootBankResponse(slot, view.RootBankCache[slot], now, seq))
	}
	return resp, nil
}

// GetPrice returns the cached price of a listed pair.
func (qs *QueryService) GetPrice(ctx context.Context, slot int) (*PriceResponse, error) {
	defer qs.observe("get_price", time.Now())

	seq := qs.cache.GetSequence()
	view := qs.cache.View()
	pc, err := view.GetPrice(slot)
	if err != nil {
		qs.fail("get_price", err)
		return nil, err
	}
	resp := priceResponse(slot, pc, qs.clock(), seq)
	return &resp, nil
}

// GetRootBank returns the cached indices of a listed token.
func (qs *QueryService) GetRootBank(ctx context.Context, slot int) (*RootBankResponse, error) {
	defer qs.observe("get_root_bank", time.Now())

	seq := qs.cache.GetSequence()
	view := qs.cache.View()
	rb, err := view.GetRootBankCache(slot)
	if err != nil {
		qs.fail("get_root_bank", err)
		return nil, err
	}
	resp := rootBankResponse(slot, rb, qs.clock(), seq)
	return &resp, nil
}

// GetPerpMarket returns the cached funding of a listed perp market.
func (qs *QueryService) GetPerpMarket(ctx context.Context, slot int) (*PerpMarketResponse, error) {
	defer qs.observe("get_perp_market", time.Now())

	seq := qs.cache.GetSequence()
	view := qs.cache.View()
	pm, err := view.GetPerpMarketCache(slot)
	if err != nil {
		qs.fail("get_perp_market", err)
		return nil, err
	}
	resp := perpMarketResponse(slot, pm, qs.clock(), seq)
	return &resp, nil
}

// CheckFreshness reports which requested records are older than the max
// age. A stale record is a normal answer; slot errors are returned as
// errors.
func (qs *QueryService) CheckFreshness(ctx context.Context, req FreshnessRequest) (*FreshnessResponse, error) {
	defer qs.observe("check_freshness", time.Now())

	now, maxAge := qs.resolve(req.Now, req.MaxAge)
	resp := &FreshnessResponse{
		Fresh:        true,
		Stale:        []state.StaleRecord{},
		Now:          now,
		MaxAge:       maxAge,
		AsOfSequence: qs.cache.GetSequence(),
	}

	err := qs.cache.CheckFreshness(req.requiredSet(), now, maxAge)
	var stale *state.StaleDataError
	switch {
	case err == nil:
	case errors.As(err, &stale):
		resp.Fresh = false
		resp.Stale = stale.Records
	default:
		qs.fail("check_freshness", err)
		return nil, err
	}
	return resp, nil
}

// NativeBalances sums the native deposits and borrows of every NodeBank of
// tokenSlot. It fails with a *state.StaleDataError when the token's root
// bank record is older than maxAge (zero selects the default).
func (qs *QueryService) NativeBalances(ctx context.Context, tokenSlot int, maxAge uint64) (*NativeBalanceResponse, error) {
	defer qs.observe("native_balances", time.Now())

	now, maxAge := qs.resolve(0, maxAge)
	seq := qs.cache.GetSequence()
	view := qs.cache.View()

	var req state.RequiredSet
	req.AddToken(tokenSlot)
	if err := view.CheckFreshness(req, now, maxAge); err != nil {
		qs.fail("native_balances", err)
		return nil, err
	}

	banks, err := qs.banks.ListByToken(ctx, tokenSlot)
	if err != nil {
		qs.fail("native_balances", err)
		return nil, fmt.Errorf("native balances token %d: %w", tokenSlot, err)
	}

	deposits := make([]fpmath.I80F48, 0, len(banks))
	borrows := make([]fpmath.I80F48, 0, len(banks))
	for _, nb := range banks {
		d, err := view.CheckedNativeDeposits(nb, tokenSlot, now, maxAge)
		if err != nil {
			qs.fail("native_balances", err)
			return nil, fmt.Errorf("node bank %s: %w", nb.Vault, err)
		}
		b, err := view.CheckedNativeBorrows(nb, tokenSlot, now, maxAge)
		if err != nil {
			qs.fail("native_balances", err)
			return nil, fmt.Errorf("node bank %s: %w", nb.Vault, err)
		}
		deposits = append(deposits, d)
		borrows = append(borrows, b)
	}

	totalDeposits, err := fpmath.Sum(deposits...)
	if err != nil {
		return nil, fmt.Errorf("native balances token %d: %w", tokenSlot, err)
	}
	totalBorrows, err := fpmath.Sum(borrows...)
	if err != nil {
		return nil, fmt.Errorf("native balances token %d: %w", tokenSlot, err)
	}

	rb := view.RootBankCache[tokenSlot]
	return &NativeBalanceResponse{
		TokenSlot:    tokenSlot,
		NodeBanks:    len(banks),
		Deposits:     totalDeposits,
		Borrows:      totalBorrows,
		DepositIndex: rb.DepositIndex,
		BorrowIndex:  rb.BorrowIndex,
		AsOfSequence: seq,
	}, nil
}

func (qs *QueryService) resolve(now, maxAge uint64) (uint64, uint64) {
	if now == 0 {
		now = qs.clock()
	}
	if maxAge == 0 {
		maxAge = qs.defaultMaxAge
	}
	return now, maxAge
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (qs *QueryService) fail(endpoint string, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryErrors.WithLabelValues(endpoint, ErrorCode(err)).Inc()
}

// ErrorCode classifies a query error for metrics and transport mapping.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, state.ErrStaleData):
		return "stale"
	case errors.Is(err, state.ErrSlotOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, state.ErrSlotNotListed):
		return "not_listed"
	case errors.Is(err, state.ErrInvalidMetaData):
		return "invalid_metadata"
	default:
		return "internal"
	}
}

func priceResponse(slot int, pc state.PriceCache, now uint64, seq int64) PriceResponse {
	return PriceResponse{
		Slot:         slot,
		Price:        pc.Price,
		LastUpdate:   pc.LastUpdate,
		Age:          pc.Age(now),
		AsOfSequence: seq,
	}
}

func rootBankResponse(slot int, rb state.RootBankCache, now uint64, seq int64) RootBankResponse {
	return RootBankResponse{
		Slot:         slot,
		DepositIndex: rb.DepositIndex,
		BorrowIndex:  rb.BorrowIndex,
		LastUpdate:   rb.LastUpdate,
		Age:          rb.Age(now),
		AsOfSequence: seq,
	}
}

func perpMarketResponse(slot int, pm state.PerpMarketCache, now uint64, seq int64) PerpMarketResponse {
	return PerpMarketResponse{
		Slot:         slot,
		LongFunding:  pm.LongFunding,
		ShortFunding: pm.ShortFunding,
		LastUpdate:   pm.LastUpdate,
		Age:          pm.Age(now),
		AsOfSequence: seq,
	}
}
