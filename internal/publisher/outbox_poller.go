package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const batchSize = 100

type EventStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*sessionstore.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id uuid.UUID) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller relays checkout events committed alongside their orders.
// Delivery is at least once: an event published but not yet marked is sent
// again on the next tick.
type OutboxPoller struct {
	tick   time.Duration
	repo   EventStore
	writer MessageWriter
	log    zerolog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo EventStore, writer MessageWriter, tick time.Duration, log zerolog.Logger) *OutboxPoller {
	if tick <= 0 {
		tick = time.Second
	}
	return &OutboxPoller{
		tick:   tick,
		repo:   repo,
		writer: writer,
		log:    log.With().Str("component", "outbox").Logger(),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Error().Err(err).Msg("error closing kafka writer")
	}
}

// processUnpublishedEvents returns the number of events relayed.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch events")
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish event")
			// Keep per-session ordering: stop at the first failure.
			return published
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark event as processed")
			continue
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *sessionstore.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // session ref for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
