package state

import "slices"

// RequiredSet lists the cache records one account's risk check reads.
type RequiredSet struct {
	Prices      []int `json:"prices,omitempty"`
	RootBanks   []int `json:"root_banks,omitempty"`
	PerpMarkets []int `json:"perp_markets,omitempty"`
}

// AddSpot requires the price of a pair.
func (s *RequiredSet) AddSpot(pair int) {
	s.Prices = append(s.Prices, pair)
}

// AddPerp requires both the price and the funding record of a pair.
func (s *RequiredSet) AddPerp(pair int) {
	s.Prices = append(s.Prices, pair)
	s.PerpMarkets = append(s.PerpMarkets, pair)
}

// AddToken requires the interest indices of a token.
func (s *RequiredSet) AddToken(token int) {
	s.RootBanks = append(s.RootBanks, token)
}

func (s RequiredSet) IsEmpty() bool {
	return len(s.Prices) == 0 && len(s.RootBanks) == 0 && len(s.PerpMarkets) == 0
}

func normalize(slots []int) []int {
	out := slices.Clone(slots)
	slices.Sort(out)
	return slices.Compact(out)
}

// StaleRecords returns every record in req older than maxAge at now,
// ordered by kind then slot. A price that was never written is always
// reported. Slots that are not listed yield an error instead.
//
// The cache is only read.
func (c *MangoCache) StaleRecords(req RequiredSet, now, maxAge uint64) ([]StaleRecord, error) {
	prices := normalize(req.Prices)
	rootBanks := normalize(req.RootBanks)
	perps := normalize(req.PerpMarkets)

	for _, slot := range prices {
		if err := c.checkPairSlot(slot); err != nil {
			return nil, err
		}
	}
	for _, slot := range rootBanks {
		if err := c.checkTokenSlot(slot); err != nil {
			return nil, err
		}
	}
	for _, slot := range perps {
		if err := c.checkPerpSlot(slot); err != nil {
			return nil, err
		}
	}

	var stale []StaleRecord
	for _, slot := range prices {
		r := c.PriceCache[slot]
		if a := r.Age(now); a > maxAge || !r.IsSet() {
			stale = append(stale, StaleRecord{Kind: KindPrice, Slot: slot, Age: a, MaxAge: maxAge})
		}
	}
	for _, slot := range rootBanks {
		if a := c.RootBankCache[slot].Age(now); a > maxAge {
			stale = append(stale, StaleRecord{Kind: KindRootBank, Slot: slot, Age: a, MaxAge: maxAge})
		}
	}
	for _, slot := range perps {
		if a := c.PerpMarketCache[slot].Age(now); a > maxAge {
			stale = append(stale, StaleRecord{Kind: KindPerpMarket, Slot: slot, Age: a, MaxAge: maxAge})
		}
	}
	return stale, nil
}

// CheckFreshness succeeds only if every record in req is at most maxAge
// old. Otherwise it returns a *StaleDataError naming each offender.
func (c *MangoCache) CheckFreshness(req RequiredSet, now, maxAge uint64) error {
	stale, err := c.StaleRecords(req, now, maxAge)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		return &StaleDataError{Records: stale}
	}
	return nil
}
