package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
)

// CancelCheckout abandons the user's pending session. The cart reopens with
// its lines.
func (s *CheckoutService) CancelCheckout(ctx context.Context, userID string) error {
	unlock := s.carts.lock(userID)
	defer unlock()

	cart, err := s.carts.loadAuthoritative(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if cart.Status != domain.CartStatusPendingCheckout {
		return domain.ErrInvalidState
	}

	if _, err := s.sessions.AbandonSession(ctx, cart.SessionRef, domain.AbandonReasonCancelled); err != nil {
		return err
	}

	session, err := s.sessions.GetSession(ctx, cart.SessionRef)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		// The cart points at a session that was never recorded.
		_, err = s.finishCartLocked(ctx, &domain.CheckoutSession{
			Ref:           cart.SessionRef,
			UserID:        userID,
			Status:        domain.SessionStatusAbandoned,
			AbandonReason: domain.AbandonReasonCancelled,
		})
		return err
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	switch session.Status {
	case domain.SessionStatusAbandoned:
		_, err = s.finishCartLocked(ctx, session)
		if err == nil {
			logger.Ctx(ctx, s.log).Info().
				Str("user_id", userID).
				Str("session_ref", session.Ref).
				Msg("checkout cancelled")
		}
		return err
	case domain.SessionStatusCompleted:
		// Payment won the race.
		if _, err := s.finishCartLocked(ctx, session); err != nil {
			return err
		}
		return fmt.Errorf("checkout already completed: %w", domain.ErrInvalidState)
	case domain.SessionStatusManualReview, domain.SessionStatusPending:
		return fmt.Errorf("session %s is %s: %w", session.Ref, session.Status, domain.ErrInvalidState)
	default:
		return domain.ErrInvalidState
	}
}

// ExpireSessions abandons every pending session whose expiry is at or before
// now and reopens the carts they froze. It returns the number expired.
func (s *CheckoutService) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	sessions, err := s.sessions.ListExpired(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	expired := 0
	for _, session := range sessions {
		log := logger.Ctx(ctx, s.log).With().
			Str("session_ref", session.Ref).
			Str("user_id", session.UserID).
			Logger()

		ok, err := s.sessions.AbandonSession(ctx, session.Ref, domain.AbandonReasonExpired)
		if err != nil {
			log.Error().Err(err).Msg("failed to expire session")
			continue
		}
		if !ok {
			// Confirmed or cancelled since it was listed.
			continue
		}
		expired++

		session.Status = domain.SessionStatusAbandoned
		session.AbandonReason = domain.AbandonReasonExpired
		if err := s.finishCart(ctx, session); err != nil {
			log.Error().Err(err).Msg("failed to reopen cart for expired session")
			continue
		}
		log.Info().Time("expired_at", session.ExpiresAt).Msg("checkout session expired")
	}

	s.settleCarts(ctx)
	return expired, nil
}

// settleCarts retries the cart step for terminal sessions whose cart may
// still be frozen after an interrupted completion or abandon.
func (s *CheckoutService) settleCarts(ctx context.Context) {
	log := logger.Ctx(ctx, s.log)

	sessions, err := s.sessions.ListUnsettled(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list unsettled sessions")
		return
	}
	for _, session := range sessions {
		if err := s.finishCart(ctx, session); err != nil {
			log.Error().Err(err).
				Str("session_ref", session.Ref).
				Str("user_id", session.UserID).
				Str("status", string(session.Status)).
				Msg("failed to settle cart")
		}
	}
}

func (s *CheckoutService) finishCart(ctx context.Context, session *domain.CheckoutSession) error {
	unlock := s.carts.lock(session.UserID)
	defer unlock()
	_, err := s.finishCartLocked(ctx, session)
	return err
}

// finishCartLocked moves the cart frozen by session into the matching
// terminal state and replaces it with a fresh Open cart, which is returned.
// A cart that no longer points at session is left alone. Once the cart is
// past session it is marked settled so the sweep stops revisiting it. Caller
// holds the user lock.
func (s *CheckoutService) finishCartLocked(ctx context.Context, session *domain.CheckoutSession) (*domain.Cart, error) {
	cart, err := s.releaseCart(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.MarkCartSettled(ctx, session.Ref); err != nil {
		logger.Ctx(ctx, s.log).Warn().Err(err).
			Str("session_ref", session.Ref).
			Msg("failed to mark cart settled")
	}
	return cart, nil
}

func (s *CheckoutService) releaseCart(ctx context.Context, session *domain.CheckoutSession) (*domain.Cart, error) {
	if err := s.carts.flusher.Flush(ctx, session.UserID); err != nil {
		return nil, err
	}
	cart, err := s.carts.repo.GetCart(ctx, session.UserID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.Status != domain.CartStatusPendingCheckout || cart.SessionRef != session.Ref {
		return cart, nil
	}

	to := domain.CartStatusAbandoned
	restore := session.AbandonReason.RestoresLines()
	if session.Status == domain.SessionStatusCompleted {
		to = domain.CartStatusCompleted
		restore = false
	}

	now := s.now()
	finished, err := cart.Finish(session.Ref, to, now)
	if err != nil {
		return nil, err
	}
	if err := s.carts.commit(ctx, cart, finished); err != nil {
		return nil, fmt.Errorf("finish cart: %w", err)
	}

	reopened, err := finished.Reopen(restore, now)
	if err != nil {
		return nil, err
	}
	if err := s.carts.commit(ctx, finished, reopened); err != nil {
		return nil, fmt.Errorf("reopen cart: %w", err)
	}
	return reopened, nil
}
