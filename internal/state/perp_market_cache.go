package state

import (
	fpmath "MangoCache/internal/math"
	"fmt"
)

// Side selects a perp funding accumulator.
type Side int8

const (
	SideLong  Side = 1
	SideShort Side = -1
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// PerpMarketCache holds the cumulative funding accumulators of one perp
// market. The accumulators move in either direction.
type PerpMarketCache struct {
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`
	LastUpdate   uint64        `json:"last_update"`
}

func (r *PerpMarketCache) Apply(longFunding, shortFunding fpmath.I80F48, ts uint64) error {
	if ts < r.LastUpdate {
		return fmt.Errorf("%w: funding ts %d < last update %d", ErrOutOfOrderUpdate, ts, r.LastUpdate)
	}

	*r = PerpMarketCache{
		LongFunding:  longFunding,
		ShortFunding: shortFunding,
		LastUpdate:   ts,
	}
	return nil
}

func (r PerpMarketCache) Age(now uint64) uint64 {
	return age(now, r.LastUpdate)
}

// Funding returns the accumulator for side.
func (r PerpMarketCache) Funding(side Side) fpmath.I80F48 {
	if side == SideShort {
		return r.ShortFunding
	}
	return r.LongFunding
}

// FundingOwed is the funding a position of baseSize has accrued since it
// last settled at the recorded accumulator value.
func (r PerpMarketCache) FundingOwed(side Side, recorded, baseSize fpmath.I80F48) (fpmath.I80F48, error) {
	return fpmath.FundingDelta(r.Funding(side), recorded, baseSize)
}
