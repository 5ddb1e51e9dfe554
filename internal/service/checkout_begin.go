package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/payment"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
)

// BeginCheckout freezes the user's cart behind a new processor session. The
// user lock is held throughout, including the catalog and processor calls.
func (s *CheckoutService) BeginCheckout(ctx context.Context, userID string) (*CheckoutResult, error) {
	unlock := s.carts.lock(userID)
	defer unlock()

	log := logger.Ctx(ctx, s.log).With().Str("user_id", userID).Logger()

	cart, err := s.carts.loadAuthoritative(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, domain.ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("load cart for checkout: %w", err)
	}

	if cart.Status == domain.CartStatusPendingCheckout {
		cart, err = s.healPending(ctx, cart)
		if err != nil {
			return nil, err
		}
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	lines, changes, err := s.price(ctx, cart)
	if err != nil {
		return nil, err
	}
	total := domain.SumLines(lines)

	session, err := s.openSession(ctx, cart, lines)
	if err != nil {
		return nil, err
	}

	next, err := cart.BeginCheckout(session.Ref, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.carts.commit(ctx, cart, next); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, s.lostRace(ctx, userID, session.Ref)
		}
		return nil, fmt.Errorf("freeze cart: %w", err)
	}

	log.Info().
		Str("session_ref", session.Ref).
		Str("total", total.StringFixed(2)).
		Int("price_changes", len(changes)).
		Msg("checkout started")

	return &CheckoutResult{Session: session, PriceChanges: changes}, nil
}

// healPending finishes a pending cart whose session already ended, which
// happens when a previous transition was interrupted. A live session means
// checkout is already in progress.
func (s *CheckoutService) healPending(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	session, err := s.sessions.GetSession(ctx, cart.SessionRef)
	if err != nil && !errors.Is(err, sessionstore.ErrSessionNotFound) {
		return nil, fmt.Errorf("load session %s: %w", cart.SessionRef, err)
	}
	if session == nil || !(session.Status == domain.SessionStatusCompleted || session.Status == domain.SessionStatusAbandoned) {
		return nil, domain.ErrCheckoutAlreadyInProgress
	}
	reopened, err := s.finishCartLocked(ctx, session)
	if err != nil {
		return nil, err
	}
	if reopened == nil || reopened.Status != domain.CartStatusOpen {
		return nil, domain.ErrCheckoutAlreadyInProgress
	}
	return reopened, nil
}

// price re-resolves every line against the catalog. Any unavailable product
// fails the whole checkout.
func (s *CheckoutService) price(ctx context.Context, cart *domain.Cart) ([]domain.LineItem, []domain.PriceChange, error) {
	lines := make([]domain.LineItem, 0, len(cart.Items))
	var changes []domain.PriceChange

	for _, item := range cart.Items {
		product, err := s.catalog.Resolve(ctx, item.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, &domain.ProductUnavailableError{ProductID: item.ProductID}
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolve product %d: %w", item.ProductID, err)
		}
		if !product.Available {
			return nil, nil, &domain.ProductUnavailableError{ProductID: item.ProductID}
		}
		product.Price = domain.QuantizePrice(product.Price)

		if !product.Price.Equal(item.UnitPrice) {
			changes = append(changes, domain.PriceChange{
				ProductID: item.ProductID,
				Previous:  item.UnitPrice,
				Current:   product.Price,
			})
		}
		lines = append(lines, domain.NewLineItem(product, item.Quantity))
	}
	return lines, changes, nil
}

// openSession creates the processor session and its durable record. The
// idempotency key is tied to the cart version, so a retry of the same cart
// gets the same session back.
func (s *CheckoutService) openSession(ctx context.Context, cart *domain.Cart, lines []domain.LineItem) (*domain.CheckoutSession, error) {
	total := domain.SumLines(lines)

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	defer cancel()

	ps, err := s.processor.CreateSession(pctx, payment.SessionRequest{
		IdempotencyKey: fmt.Sprintf("%s:%d", cart.ID, cart.Version),
		Items:          lines,
		Total:          total,
		Currency:       s.cfg.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor session: %w", err)
	}

	now := s.now()
	expiresAt := ps.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.cfg.DefaultSessionTTL)
	}

	session := &domain.CheckoutSession{
		Ref:       ps.Ref,
		UserID:    cart.UserID,
		CartID:    cart.ID,
		Items:     lines,
		Total:     total,
		Currency:  s.cfg.Currency,
		Status:    domain.SessionStatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.sessions.CreateSession(ctx, session)
	if errors.Is(err, sessionstore.ErrDuplicateSession) {
		existing, errGet := s.sessions.GetSession(ctx, ps.Ref)
		if errGet != nil {
			return nil, fmt.Errorf("load existing session %s: %w", ps.Ref, errGet)
		}
		if existing.Status != domain.SessionStatusPending || existing.CartID != cart.ID {
			return nil, fmt.Errorf("session %s already %s: %w", ps.Ref, existing.Status, domain.ErrInvalidState)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// lostRace runs when the store cart changed between load and freeze. Our
// session is abandoned unless the winner is using the same one.
func (s *CheckoutService) lostRace(ctx context.Context, userID, ref string) error {
	current, err := s.carts.repo.GetCart(ctx, userID)
	if err == nil && current.Status == domain.CartStatusPendingCheckout && current.SessionRef == ref {
		return domain.ErrCheckoutAlreadyInProgress
	}

	if _, errAbandon := s.sessions.AbandonSession(ctx, ref, domain.AbandonReasonSuperseded); errAbandon != nil {
		logger.Ctx(ctx, s.log).Error().Err(errAbandon).
			Str("session_ref", ref).
			Msg("failed to abandon superseded session")
	}

	if err == nil && current.Status == domain.CartStatusPendingCheckout {
		return domain.ErrCheckoutAlreadyInProgress
	}
	return fmt.Errorf("cart changed during checkout: %w", repository.ErrVersionConflict)
}
