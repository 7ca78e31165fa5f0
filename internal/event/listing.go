package event

import "fmt"

// PairListed assigns the next pair slot. Slot is the slot the producer
// expects to receive; the core rejects the event if listing would hand
// out a different one.
type PairListed struct {
	Slot      int    `json:"slot"`
	Symbol    string `json:"symbol,omitempty"`
	WithPerp  bool   `json:"with_perp"`
	Timestamp uint64 `json:"timestamp"`
}

func (p *PairListed) IdempotencyKey() string {
	return fmt.Sprintf("pair_listed:%d", p.Slot)
}

func (p *PairListed) EventType() EventType {
	return EventTypePairListed
}

func (p *PairListed) Partition() string {
	return fmt.Sprintf("pair:%d", p.Slot)
}

func (p *PairListed) EventTimestamp() uint64 {
	return p.Timestamp
}

// TokenListed assigns the next token slot with both indices at one.
type TokenListed struct {
	Slot      int    `json:"slot"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

func (t *TokenListed) IdempotencyKey() string {
	return fmt.Sprintf("token_listed:%d", t.Slot)
}

func (t *TokenListed) EventType() EventType {
	return EventTypeTokenListed
}

func (t *TokenListed) Partition() string {
	return fmt.Sprintf("token:%d", t.Slot)
}

func (t *TokenListed) EventTimestamp() uint64 {
	return t.Timestamp
}

// PerpMarketEnabled turns on funding for an already listed pair.
type PerpMarketEnabled struct {
	Slot      int    `json:"slot"`
	Timestamp uint64 `json:"timestamp"`
}

func (p *PerpMarketEnabled) IdempotencyKey() string {
	return fmt.Sprintf("perp_enabled:%d", p.Slot)
}

func (p *PerpMarketEnabled) EventType() EventType {
	return EventTypePerpMarketEnabled
}

func (p *PerpMarketEnabled) Partition() string {
	return fmt.Sprintf("perp_market:%d", p.Slot)
}

func (p *PerpMarketEnabled) EventTimestamp() uint64 {
	return p.Timestamp
}
