package service

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/catalog"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/payment"
	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
	"github.com/rs/zerolog"
)

type CheckoutConfig struct {
	Currency          string
	ProcessorTimeout  time.Duration
	DefaultSessionTTL time.Duration
	SweepBatchSize    int
}

// CheckoutResult is a successful beginCheckout. PriceChanges lists every line
// whose checkout price differs from its add-to-cart snapshot.
type CheckoutResult struct {
	Session      *domain.CheckoutSession `json:"session"`
	PriceChanges []domain.PriceChange    `json:"price_changes,omitempty"`
}

func (r *CheckoutResult) PriceChanged() bool {
	return len(r.PriceChanges) > 0
}

type CheckoutService struct {
	carts     *Carts
	sessions  sessionstore.RepoInterface
	catalog   catalog.Reader
	processor payment.Processor
	cfg       CheckoutConfig
	log       zerolog.Logger
}

// NewCheckoutService takes the authoritative catalog reader, never a cached one.
func NewCheckoutService(
	carts *Carts,
	sessions sessionstore.RepoInterface,
	reader catalog.Reader,
	processor payment.Processor,
	cfg CheckoutConfig,
	log zerolog.Logger,
) *CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.ProcessorTimeout <= 0 {
		cfg.ProcessorTimeout = 5 * time.Second
	}
	if cfg.DefaultSessionTTL <= 0 {
		cfg.DefaultSessionTTL = domain.DefaultSessionTTL
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &CheckoutService{
		carts:     carts,
		sessions:  sessions,
		catalog:   reader,
		processor: processor,
		cfg:       cfg,
		log:       log.With().Str("component", "checkout").Logger(),
	}
}

// GetCheckout returns the session the user's cart is waiting on.
func (s *CheckoutService) GetCheckout(ctx context.Context, userID string) (*domain.CheckoutSession, error) {
	cart, err := s.carts.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.Status != domain.CartStatusPendingCheckout {
		return nil, domain.ErrNotFound
	}

	session, err := s.sessions.GetSession(ctx, cart.SessionRef)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if session.Status == domain.SessionStatusCompleted || session.Status == domain.SessionStatusAbandoned {
		if err := s.finishCart(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (s *CheckoutService) now() time.Time {
	return s.carts.now()
}
