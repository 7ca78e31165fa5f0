package event

import (
	fpmath "MangoCache/internal/math"
	"fmt"
)

// PerpFundingUpdate carries the cumulative funding accumulators of a perp
// market after a funding tick.
type PerpFundingUpdate struct {
	UpdateID     string        `json:"update_id,omitempty"`
	Slot         int           `json:"slot"`
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`
	Timestamp    uint64        `json:"timestamp"`
}

func (f *PerpFundingUpdate) IdempotencyKey() string {
	return recordKey("perp_market", f.Slot, f.UpdateID, f.Timestamp, f.LongFunding, f.ShortFunding)
}

func (f *PerpFundingUpdate) EventType() EventType {
	return EventTypePerpFundingUpdate
}

func (f *PerpFundingUpdate) Partition() string {
	return fmt.Sprintf("perp_market:%d", f.Slot)
}

func (f *PerpFundingUpdate) EventTimestamp() uint64 {
	return f.Timestamp
}
