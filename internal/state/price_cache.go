package state

import (
	fpmath "MangoCache/internal/math"
	"fmt"
)

// PriceCache holds the latest oracle price of one trading pair in quote
// native units per base native unit. A zero price means the slot was never
// written.
type PriceCache struct {
	Price      fpmath.I80F48 `json:"price"`
	LastUpdate uint64        `json:"last_update"`
}

// Apply replaces the record with a new price observed at ts. The record is
// left untouched on error.
func (r *PriceCache) Apply(price fpmath.I80F48, ts uint64) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if ts < r.LastUpdate {
		return fmt.Errorf("%w: price ts %d < last update %d", ErrOutOfOrderUpdate, ts, r.LastUpdate)
	}

	*r = PriceCache{Price: price, LastUpdate: ts}
	return nil
}

func (r PriceCache) IsSet() bool {
	return r.Price.IsPositive()
}

func (r PriceCache) Age(now uint64) uint64 {
	return age(now, r.LastUpdate)
}

// age saturates at zero when the clock reads behind the record.
func age(now, lastUpdate uint64) uint64 {
	if now < lastUpdate {
		return 0
	}
	return now - lastUpdate
}
