package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes the JetStream update streams and hands every
// message to eventChan as a RawEvent.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is a message that has not been parsed yet.
type RawEvent struct {
	Subject   string
	EventType string // wire event type resolved from the subject
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the event was handed to the engine
	NakFunc   func() // NAK on shutdown (will be redelivered)
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one durable consumer per updater.
// The last subject token is the slot, e.g. cache.prices.3; the router
// drops messages whose payload names a different slot.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "cache.prices.>", EventType: "price_update", ConsumerName: "cache-prices", StreamName: "CACHE_PRICES"},
		{Subject: "cache.banks.accrual.>", EventType: "root_bank_accrual", ConsumerName: "cache-bank-accrual", StreamName: "CACHE_BANKS"},
		{Subject: "cache.funding.>", EventType: "perp_funding_update", ConsumerName: "cache-funding", StreamName: "CACHE_FUNDING"},
		{Subject: "cache.admin.pairs.>", EventType: "pair_listed", ConsumerName: "cache-admin-pairs", StreamName: "CACHE_ADMIN"},
		{Subject: "cache.admin.tokens.>", EventType: "token_listed", ConsumerName: "cache-admin-tokens", StreamName: "CACHE_ADMIN"},
		{Subject: "cache.admin.perps.>", EventType: "perp_market_enabled", ConsumerName: "cache-admin-perps", StreamName: "CACHE_ADMIN"},
	}
}

// ResolveEventType finds the event type for subject by longest matching
// prefix. It returns "" when nothing matches.
func ResolveEventType(subject string, subjects []SubjectConfig) string {
	bestLen := 0
	bestType := ""
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestType = cfg.EventType
		}
	}
	return bestType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the update streams if they don't exist.
// Updates are only useful while fresh, so streams keep 24h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []struct {
		name    string
		subject string
	}{
		{"CACHE_PRICES", "cache.prices.>"},
		{"CACHE_BANKS", "cache.banks.>"},
		{"CACHE_FUNDING", "cache.funding.>"},
		{"CACHE_ADMIN", "cache.admin.>"},
	}

	for _, s := range streams {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      s.name,
			Subjects:  []string{s.subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
		logger.Info().Str("stream", s.name).Msg("ensured stream")
	}

	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("mangocache"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
