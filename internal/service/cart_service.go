package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/basket-service/internal/catalog"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/rs/zerolog"
)

type CartService struct {
	carts   *Carts
	catalog catalog.Reader
	log     zerolog.Logger
}

// NewCartService takes the display-price catalog. Prices captured here are
// snapshots only; checkout re-reads them.
func NewCartService(carts *Carts, reader catalog.Reader, log zerolog.Logger) *CartService {
	return &CartService{
		carts:   carts,
		catalog: reader,
		log:     log.With().Str("component", "cart").Logger(),
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.carts.get(ctx, userID)
}

func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		if cart.Status != domain.CartStatusOpen {
			return domain.ErrInvalidState
		}
		if quantity <= 0 || quantity > domain.MaxQuantity {
			return domain.ErrInvalidQuantity
		}

		product, err := s.catalog.Resolve(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("resolve product %d: %w", productID, err)
		}
		if !product.Available {
			return &domain.ProductUnavailableError{ProductID: productID}
		}
		return cart.AddItem(productID, quantity, product.Price, s.carts.now())
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, productID int64) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		return cart.RemoveItem(productID, s.carts.now())
	})
}

func (s *CartService) SetQuantity(ctx context.Context, userID string, productID int64, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		return cart.SetQuantity(productID, quantity, s.carts.now())
	})
}

func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	unlock := s.carts.lock(userID)
	defer unlock()

	cart, err := s.carts.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, err := cart.Clear(s.carts.now())
	if err != nil {
		return nil, err
	}
	s.carts.stage(ctx, next)
	return next, nil
}

// mutate applies fn to a copy of the user's cart under the user lock and
// stages the result. A change that leaves the version untouched is not staged.
func (s *CartService) mutate(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	unlock := s.carts.lock(userID)
	defer unlock()

	cart, err := s.carts.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := cart.Clone()
	if err := fn(next); err != nil {
		logger.Ctx(ctx, s.log).Debug().Err(err).Str("user_id", userID).Msg("cart change rejected")
		return nil, err
	}
	if next.Version == cart.Version {
		return next, nil
	}

	s.carts.stage(ctx, next)
	return next, nil
}
