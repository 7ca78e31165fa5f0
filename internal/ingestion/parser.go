package ingestion

import (
	"MangoCache/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload wraps every parse failure: unknown event types,
// malformed JSON, unknown fields and missing fields.
var ErrInvalidPayload = errors.New("invalid payload")

// ParseRawEvent converts a RawEvent (JSON bytes + wire event type) into a
// typed event.Event. Payloads are validated for shape only; the engine
// applies the value rules.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et, err := event.ParseEventType(eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ParsePayload(et, raw.Data)
}

// ParsePayload decodes one event payload strictly: unknown fields, a
// missing slot and missing timestamps are rejected.
func ParsePayload(et event.EventType, data []byte) (event.Event, error) {
	var evt event.Event
	switch et {
	case event.EventTypePriceUpdate:
		evt = &event.PriceUpdate{}
	case event.EventTypeRootBankAccrual:
		evt = &event.RootBankAccrual{}
	case event.EventTypePerpFundingUpdate:
		evt = &event.PerpFundingUpdate{}
	case event.EventTypePairListed:
		evt = &event.PairListed{}
	case event.EventTypeTokenListed:
		evt = &event.TokenListed{}
	case event.EventTypePerpMarketEnabled:
		evt = &event.PerpMarketEnabled{}
	default:
		return nil, fmt.Errorf("%w: unknown event type: %s", ErrInvalidPayload, et)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPayload, et, err)
	}
	if err := requireSlotField(data); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPayload, et, err)
	}
	if err := validate(evt); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPayload, et, err)
	}
	return evt, nil
}

func validate(evt event.Event) error {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return requireSlotAndTime(e.Slot, e.Timestamp)
	case *event.RootBankAccrual:
		return requireSlotAndTime(e.Slot, e.Timestamp)
	case *event.PerpFundingUpdate:
		return requireSlotAndTime(e.Slot, e.Timestamp)
	case *event.PairListed:
		return requireSlot(e.Slot)
	case *event.TokenListed:
		return requireSlot(e.Slot)
	case *event.PerpMarketEnabled:
		return requireSlot(e.Slot)
	}
	return nil
}

// requireSlotField rejects payloads without a slot. A plain int field would
// decode a missing slot as 0 and route the update to market 0.
func requireSlotField(data []byte) error {
	var fields struct {
		Slot *int `json:"slot"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields.Slot == nil {
		return errors.New("slot is required")
	}
	return nil
}

// SlotOf returns the cache slot an event targets.
func SlotOf(evt event.Event) (int, bool) {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return e.Slot, true
	case *event.RootBankAccrual:
		return e.Slot, true
	case *event.PerpFundingUpdate:
		return e.Slot, true
	case *event.PairListed:
		return e.Slot, true
	case *event.TokenListed:
		return e.Slot, true
	case *event.PerpMarketEnabled:
		return e.Slot, true
	}
	return 0, false
}

func requireSlot(slot int) error {
	if slot < 0 {
		return fmt.Errorf("slot must be non-negative, got %d", slot)
	}
	return nil
}

func requireSlotAndTime(slot int, ts uint64) error {
	if err := requireSlot(slot); err != nil {
		return err
	}
	if ts == 0 {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
