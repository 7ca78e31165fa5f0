package event

import (
	fpmath "MangoCache/internal/math"
	"fmt"
	"strings"
)

// PriceUpdate is an oracle price for one pair slot.
// Idempotency key: "price:{slot}:{update_id}", falling back to
// "price:{slot}:{timestamp}:{price}" so two different values in the same
// second are both applied.
type PriceUpdate struct {
	UpdateID  string        `json:"update_id,omitempty"`
	Slot      int           `json:"slot"`
	Price     fpmath.I80F48 `json:"price"`
	Timestamp uint64        `json:"timestamp"`
}

func (p *PriceUpdate) IdempotencyKey() string {
	return recordKey("price", p.Slot, p.UpdateID, p.Timestamp, p.Price)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Partition() string {
	return fmt.Sprintf("price:%d", p.Slot)
}

func (p *PriceUpdate) EventTimestamp() uint64 {
	return p.Timestamp
}

func recordKey(kind string, slot int, updateID string, ts uint64, values ...fpmath.I80F48) string {
	if updateID != "" {
		return fmt.Sprintf("%s:%d:%s", kind, slot, updateID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d", kind, slot, ts)
	for _, v := range values {
		b.WriteByte(':')
		b.WriteString(v.String())
	}
	return b.String()
}
