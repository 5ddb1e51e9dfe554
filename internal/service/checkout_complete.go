package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConfirmPayment applies the processor's settlement event. Replaying a
// confirmation for a completed session is a no-op.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) error {
	// A session can leave PENDING between read and update at most once, so a
	// second pass always lands on a settled status.
	for attempt := 0; attempt < 2; attempt++ {
		done, err := s.confirm(ctx, conf)
		if done || err != nil {
			return err
		}
	}
	return fmt.Errorf("session %s changed state during confirmation: %w", conf.SessionRef, domain.ErrInvalidState)
}

func (s *CheckoutService) confirm(ctx context.Context, conf domain.PaymentConfirmation) (bool, error) {
	log := logger.Ctx(ctx, s.log).With().
		Str("session_ref", conf.SessionRef).
		Str("confirmed", conf.ConfirmedAmount.StringFixed(2)).
		Logger()

	session, err := s.sessions.GetSession(ctx, conf.SessionRef)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		log.Error().Msg("confirmation for unknown session")
		s.recordIssue(ctx, conf, decimal.Zero, "unknown session")
		return true, fmt.Errorf("session %s: %w", conf.SessionRef, domain.ErrNotFound)
	}
	if err != nil {
		return true, fmt.Errorf("load session: %w", err)
	}

	switch session.Status {
	case domain.SessionStatusCompleted:
		// Already applied. The cart step runs again in case it was interrupted.
		return true, s.finishCart(ctx, session)

	case domain.SessionStatusManualReview:
		return true, &domain.ReconciliationError{
			SessionRef: session.Ref,
			Expected:   session.Total,
			Confirmed:  conf.ConfirmedAmount,
		}

	case domain.SessionStatusAbandoned:
		log.Error().
			Str("abandon_reason", string(session.AbandonReason)).
			Msg("confirmation for abandoned session")
		s.recordIssue(ctx, conf, session.Total, "confirmation after abandon: "+string(session.AbandonReason))
		return true, fmt.Errorf("session %s is abandoned: %w", session.Ref, domain.ErrInvalidState)

	case domain.SessionStatusPending:
		if !conf.ConfirmedAmount.Equal(session.Total) {
			return s.flagMismatch(ctx, session, conf)
		}
		return s.complete(ctx, session)

	default:
		return true, fmt.Errorf("session %s has unknown status %q: %w", session.Ref, session.Status, domain.ErrInvalidState)
	}
}

func (s *CheckoutService) complete(ctx context.Context, session *domain.CheckoutSession) (bool, error) {
	now := s.now()
	order := &domain.Order{
		ID:         uuid.New(),
		SessionRef: session.Ref,
		UserID:     session.UserID,
		Items:      session.Items,
		Total:      session.Total,
		Currency:   session.Currency,
		CreatedAt:  now,
	}

	payload, err := json.Marshal(domain.CheckoutCompletedEvent{
		SessionRef:  session.Ref,
		OrderID:     order.ID,
		UserID:      session.UserID,
		CartID:      session.CartID,
		Items:       session.Items,
		Total:       session.Total,
		Currency:    session.Currency,
		CompletedAt: now,
	})
	if err != nil {
		return true, fmt.Errorf("failed to marshal checkout payload: %w", err)
	}

	ok, err := s.sessions.CompleteSession(ctx, order, &sessionstore.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: session.Ref,
		EventType:   sessionstore.EventTypeCheckoutCompleted,
		Payload:     payload,
	})
	if errors.Is(err, sessionstore.ErrDuplicateOrder) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("complete session: %w", err)
	}
	if !ok {
		return false, nil
	}

	logger.Ctx(ctx, s.log).Info().
		Str("session_ref", session.Ref).
		Str("user_id", session.UserID).
		Str("order_id", order.ID.String()).
		Msg("checkout completed")

	session.Status = domain.SessionStatusCompleted
	return true, s.finishCart(ctx, session)
}

func (s *CheckoutService) flagMismatch(ctx context.Context, session *domain.CheckoutSession, conf domain.PaymentConfirmation) (bool, error) {
	issue := &domain.ReconciliationIssue{
		SessionRef: session.Ref,
		Expected:   session.Total,
		Confirmed:  conf.ConfirmedAmount,
		Reason:     "amount mismatch",
		DetectedAt: s.now(),
	}
	ok, err := s.sessions.MarkManualReview(ctx, issue)
	if err != nil {
		return true, fmt.Errorf("mark manual review: %w", err)
	}
	if !ok {
		return false, nil
	}

	logger.Ctx(ctx, s.log).Error().
		Str("session_ref", session.Ref).
		Str("expected", session.Total.StringFixed(2)).
		Str("confirmed", conf.ConfirmedAmount.StringFixed(2)).
		Msg("payment amount mismatch, session held for manual review")

	return true, &domain.ReconciliationError{
		SessionRef: session.Ref,
		Expected:   session.Total,
		Confirmed:  conf.ConfirmedAmount,
	}
}

func (s *CheckoutService) recordIssue(ctx context.Context, conf domain.PaymentConfirmation, expected decimal.Decimal, reason string) {
	err := s.sessions.RecordIssue(ctx, &domain.ReconciliationIssue{
		SessionRef: conf.SessionRef,
		Expected:   expected,
		Confirmed:  conf.ConfirmedAmount,
		Reason:     reason,
		DetectedAt: s.now(),
	})
	if err != nil {
		logger.Ctx(ctx, s.log).Error().Err(err).
			Str("session_ref", conf.SessionRef).
			Msg("failed to record reconciliation issue")
	}
}
