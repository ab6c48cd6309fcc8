package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds decoded
// chain logs into the projector via eventChan. The upstream chain watcher
// publishes one message per contract log, in block order, per subject.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is the parsed-but-untyped message from NATS, ready for the
// shell to validate and convert into a typed event.Event before sending to
// the projector.
type RawEvent struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // Call to ACK the NATS message after successful processing
	NakFunc  func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Every
// contract event has its own subject so consumers scale independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "auction.events.new_auction", EventType: "NewAuction", ConsumerName: "idx-new-auction", StreamName: "AUCTION_EVENTS"},
		{Subject: "auction.events.new_user", EventType: "NewUser", ConsumerName: "idx-new-user", StreamName: "AUCTION_EVENTS"},
		{Subject: "auction.events.new_sell_order", EventType: "NewSellOrder", ConsumerName: "idx-new-order", StreamName: "AUCTION_EVENTS"},
		{Subject: "auction.events.cancellation", EventType: "CancellationSellOrder", ConsumerName: "idx-cancel", StreamName: "AUCTION_EVENTS"},
		{Subject: "auction.events.claimed", EventType: "ClaimedFromOrder", ConsumerName: "idx-claimed", StreamName: "AUCTION_EVENTS"},
		{Subject: "auction.events.cleared", EventType: "AuctionCleared", ConsumerName: "idx-cleared", StreamName: "AUCTION_EVENTS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
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

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
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
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. One stream covers every contract subject so relative log order is
// preserved end to end.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "AUCTION_EVENTS",
			Subjects:  []string{"auction.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS opens a reconnecting connection and its JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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

// Drain stops all consumers.
func (ns *NATSSubscriber) Drain() {
	for _, c := range ns.consumers {
		c.Stop()
	}
}

// EventTypeForSubject resolves a message's subject to its event type.
func EventTypeForSubject(subjects []SubjectConfig, subject string) (string, bool) {
	for _, cfg := range subjects {
		if cfg.Subject == subject {
			return cfg.EventType, true
		}
	}
	return "", false
}
