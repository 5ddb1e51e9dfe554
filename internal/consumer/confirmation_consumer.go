// Package consumer applies payment confirmations delivered over Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Confirmer interface {
	ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) error
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConfirmationConsumer commits an offset only once its confirmation has been
// applied or rejected for good, so an outage never loses a payment.
type ConfirmationConsumer struct {
	reader    MessageReader
	confirmer Confirmer
	log       zerolog.Logger
	retry     time.Duration
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConfirmationConsumer(reader MessageReader, confirmer Confirmer, log zerolog.Logger) *ConfirmationConsumer {
	return &ConfirmationConsumer{
		reader:    reader,
		confirmer: confirmer,
		log:       log.With().Str("component", "confirmation_consumer").Logger(),
		retry:     200 * time.Millisecond,
	}
}

func (c *ConfirmationConsumer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Msg("error reading message")
			continue
		}

		if err := c.processMessage(ctx, msg); err != nil {
			// Context cancelled mid-retry. The message is redelivered after restart.
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

func (c *ConfirmationConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error().Err(err).Msg("error closing reader")
	}
}

// processMessage returns an error only when ctx ends before the message could
// be settled. Permanent failures are logged and reported as handled.
func (c *ConfirmationConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	conf, err := decode(msg.Value)
	if err != nil {
		c.log.Error().Err(err).
			Int64("offset", msg.Offset).
			Msg("dropping malformed confirmation")
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry
	b.MaxElapsedTime = 0

	err = backoff.RetryNotify(
		func() error {
			err := c.confirmer.ConfirmPayment(ctx, conf)
			if err != nil && isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, wait time.Duration) {
			c.log.Warn().Err(err).
				Str("session_ref", conf.SessionRef).
				Dur("retry_in", wait).
				Msg("confirmation failed, retrying")
		},
	)
	switch {
	case err == nil:
		c.log.Info().Str("session_ref", conf.SessionRef).Msg("payment confirmation applied")
		return nil
	case isPermanent(err):
		c.log.Warn().Err(err).Str("session_ref", conf.SessionRef).Msg("payment confirmation rejected")
		return nil
	default:
		return err
	}
}

func decode(value []byte) (domain.PaymentConfirmation, error) {
	var conf domain.PaymentConfirmation
	if err := json.Unmarshal(value, &conf); err != nil {
		return conf, fmt.Errorf("parse confirmation: %w", err)
	}
	if conf.SessionRef == "" {
		return conf, errors.New("confirmation without session_ref")
	}
	return conf, nil
}

// isPermanent reports errors that no retry can fix. Each of them has already
// been recorded for reconciliation by the checkout service.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrReconciliationMismatch)
}
