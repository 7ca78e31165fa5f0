package event

import (
	"encoding/json"
	"fmt"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceUpdate
	EventTypeRootBankAccrual
	EventTypePerpFundingUpdate
	EventTypePairListed
	EventTypeTokenListed
	EventTypePerpMarketEnabled
)

// EventEnvelope wraps every applied event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Record the event wrote, e.g. "price:3"
	Partition string

	// Network timestamp in seconds carried by the event
	Timestamp uint64

	// JSON-encoded event payload
	Payload []byte

	// SHA-256 of the cache image AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Partition names the cache record the event targets
	Partition() string

	// EventTimestamp is the network time the update was produced at
	EventTimestamp() uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeRootBankAccrual:
		return "RootBankAccrual"
	case EventTypePerpFundingUpdate:
		return "PerpFundingUpdate"
	case EventTypePairListed:
		return "PairListed"
	case EventTypeTokenListed:
		return "TokenListed"
	case EventTypePerpMarketEnabled:
		return "PerpMarketEnabled"
	default:
		return "Unknown"
	}
}

// ParseEventType maps the snake_case wire name to an EventType.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "price_update":
		return EventTypePriceUpdate, nil
	case "root_bank_accrual":
		return EventTypeRootBankAccrual, nil
	case "perp_funding_update":
		return EventTypePerpFundingUpdate, nil
	case "pair_listed":
		return EventTypePairListed, nil
	case "token_listed":
		return EventTypeTokenListed, nil
	case "perp_market_enabled":
		return EventTypePerpMarketEnabled, nil
	default:
		return EventTypeUnknown, fmt.Errorf("unknown event type: %s", s)
	}
}

// WireName is the inverse of ParseEventType.
func (et EventType) WireName() string {
	switch et {
	case EventTypePriceUpdate:
		return "price_update"
	case EventTypeRootBankAccrual:
		return "root_bank_accrual"
	case EventTypePerpFundingUpdate:
		return "perp_funding_update"
	case EventTypePairListed:
		return "pair_listed"
	case EventTypeTokenListed:
		return "token_listed"
	case EventTypePerpMarketEnabled:
		return "perp_market_enabled"
	default:
		return "unknown"
	}
}

// EncodePayload serializes an event for the event log.
func EncodePayload(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// DecodePayload rebuilds an event from its log payload.
func DecodePayload(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypePriceUpdate:
		evt = &PriceUpdate{}
	case EventTypeRootBankAccrual:
		evt = &RootBankAccrual{}
	case EventTypePerpFundingUpdate:
		evt = &PerpFundingUpdate{}
	case EventTypePairListed:
		evt = &PairListed{}
	case EventTypeTokenListed:
		evt = &TokenListed{}
	case EventTypePerpMarketEnabled:
		evt = &PerpMarketEnabled{}
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
