package ingestion

import (
	"MangoCache/internal/event"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GRPCIngestService provides admin/manual event injection. It is meant
// for operators and tests; updaters publish to NATS.
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// SubmitUpdate parses a JSON payload of the given wire event type and
// queues it for the engine. Record updates without an update_id get a
// random one so the injected update is never mistaken for a redelivery.
// It returns the idempotency key the event was queued under.
func (s *GRPCIngestService) SubmitUpdate(ctx context.Context, eventType string, payload []byte) (string, error) {
	et, err := event.ParseEventType(eventType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	evt, err := ParsePayload(et, payload)
	if err != nil {
		return "", err
	}

	switch e := evt.(type) {
	case *event.PriceUpdate:
		if e.UpdateID == "" {
			e.UpdateID = uuid.NewString()
		}
	case *event.RootBankAccrual:
		if e.UpdateID == "" {
			e.UpdateID = uuid.NewString()
		}
	case *event.PerpFundingUpdate:
		if e.UpdateID == "" {
			e.UpdateID = uuid.NewString()
		}
	}

	if err := s.enqueue(ctx, evt); err != nil {
		return "", err
	}
	return evt.IdempotencyKey(), nil
}

func (s *GRPCIngestService) enqueue(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
