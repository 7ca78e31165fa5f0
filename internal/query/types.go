package query

import (
	fpmath "MangoCache/internal/math"
	"MangoCache/internal/state"
)

// Every response carries as_of_sequence, the last event applied to the
// cache the answer was read from.

// PriceResponse is one cached oracle price.
type PriceResponse struct {
	Slot         int           `json:"slot"`
	Price        fpmath.I80F48 `json:"price"`
	LastUpdate   uint64        `json:"last_update"`
	Age          uint64        `json:"age"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// RootBankResponse is one cached pair of interest indices.
type RootBankResponse struct {
	Slot         int           `json:"slot"`
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
	LastUpdate   uint64        `json:"last_update"`
	Age          uint64        `json:"age"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// PerpMarketResponse is one cached pair of funding accumulators.
type PerpMarketResponse struct {
	Slot         int           `json:"slot"`
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`
	LastUpdate   uint64        `json:"last_update"`
	Age          uint64        `json:"age"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// CacheResponse lists every listed record of the cache.
type CacheResponse struct {
	NumPairs     int                  `json:"num_pairs"`
	NumTokens    int                  `json:"num_tokens"`
	Prices       []PriceResponse      `json:"prices"`
	RootBanks    []RootBankResponse   `json:"root_banks"`
	PerpMarkets  []PerpMarketResponse `json:"perp_markets"`
	AsOfSequence int64                `json:"as_of_sequence"`
}

// FreshnessRequest names the records an operation needs. Now and MaxAge
// are seconds; zero means the service clock and its default max age.
type FreshnessRequest struct {
	Prices      []int  `json:"prices"`
	RootBanks   []int  `json:"root_banks"`
	PerpMarkets []int  `json:"perp_markets"`
	Now         uint64 `json:"now,omitempty"`
	MaxAge      uint64 `json:"max_age,omitempty"`
}

func (r FreshnessRequest) requiredSet() state.RequiredSet {
	return state.RequiredSet{
		Prices:      r.Prices,
		RootBanks:   r.RootBanks,
		PerpMarkets: r.PerpMarkets,
	}
}

// FreshnessResponse reports the stale records, if any. Stale is ordered
// by kind (price, root_bank, perp_market) then slot.
type FreshnessResponse struct {
	Fresh        bool                `json:"fresh"`
	Stale        []state.StaleRecord `json:"stale"`
	Now          uint64              `json:"now"`
	MaxAge       uint64              `json:"max_age"`
	AsOfSequence int64               `json:"as_of_sequence"`
}
