package ingestion

import (
	"MangoCache/internal/event"
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Router parses raw NATS messages and forwards typed events to the engine
// loop. A message is acked once the typed event is queued, so a slow
// engine holds back NATS through the blocking send instead of letting
// AckWait expire. Unparseable messages, and messages whose subject slot
// differs from the payload slot, are acked and dropped.
type Router struct {
	subjects []SubjectConfig
	logger   zerolog.Logger
}

func NewRouter(subjects []SubjectConfig, logger zerolog.Logger) *Router {
	return &Router{subjects: subjects, logger: logger}
}

// Run drains rawChan until ctx is done or rawChan closes, then closes out.
func (r *Router) Run(ctx context.Context, rawChan <-chan RawEvent, out chan<- event.Event) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			evt, ok := r.parse(raw)
			if !ok {
				raw.AckFunc()
				continue
			}

			select {
			case out <- evt:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

func (r *Router) parse(raw RawEvent) (event.Event, bool) {
	eventType := raw.EventType
	if eventType == "" {
		eventType = ResolveEventType(raw.Subject, r.subjects)
	}
	if eventType == "" {
		r.logger.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
		return nil, false
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
		return nil, false
	}

	want, ok := SubjectSlot(raw.Subject)
	got, _ := SlotOf(evt)
	if !ok || want != got {
		r.logger.Warn().
			Str("subject", raw.Subject).
			Int("payload_slot", got).
			Msg("subject slot does not match payload slot")
		return nil, false
	}
	return evt, true
}

// SubjectSlot parses the slot from the last subject token,
// e.g. 3 for cache.prices.3.
func SubjectSlot(subject string) (int, bool) {
	token := subject[strings.LastIndexByte(subject, '.')+1:]
	slot, err := strconv.Atoi(token)
	if err != nil || slot < 0 {
		return 0, false
	}
	return slot, true
}
