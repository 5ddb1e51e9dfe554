package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/cache"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/keylock"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Flusher is the write-behind queue between the cache and the cart store.
type Flusher interface {
	Enqueue(cart *domain.Cart)
	Pending(userID string) (*domain.Cart, bool)
	Flush(ctx context.Context, userID string) error
}

// Carts owns every read and write of cart state. Callers that change a cart
// hold its user lock for the whole read-modify-write.
type Carts struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	flusher Flusher
	locks   *keylock.Locker
	sfg     singleflight.Group // collapses concurrent cache misses
	log     zerolog.Logger
	now     func() time.Time
}

func NewCarts(repo repository.CartRepository, c cache.CartCache, flusher Flusher, locks *keylock.Locker, log zerolog.Logger) *Carts {
	return &Carts{
		repo:    repo,
		cache:   c,
		flusher: flusher,
		locks:   locks,
		log:     log.With().Str("component", "carts").Logger(),
		now:     time.Now,
	}
}

func (c *Carts) lock(userID string) func() {
	return c.locks.Lock(userID)
}

// get serves reads without the user lock. A cache miss is filled under the
// lock so a slow read can never put an older cart back into the cache.
func (c *Carts) get(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := c.cache.Get(ctx, userID)
	if err == nil && !cart.Status.IsTerminal() {
		return cart, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logger.Ctx(ctx, c.log).Warn().Err(err).Str("user_id", userID).Msg("cache get error")
	}

	v, err, _ := c.sfg.Do(userID, func() (interface{}, error) {
		unlock := c.lock(userID)
		defer unlock()
		return c.loadLocked(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// loadLocked returns the newest cart for userID, looking at the cache, then
// unflushed writes, then the store. A terminal cart is replaced by a fresh
// Open one. Caller holds the user lock.
func (c *Carts) loadLocked(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := c.cache.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Ctx(ctx, c.log).Warn().Err(err).Str("user_id", userID).Msg("cache get error")
		}
		cart, err = c.loadUncached(ctx, userID)
		if err != nil {
			return nil, err
		}
	} else if pending, ok := c.flusher.Pending(userID); ok && pending.Version > cart.Version {
		// The cache missed a write it failed to accept.
		cart = pending
		c.remember(ctx, cart)
	}
	return c.settle(ctx, cart)
}

func (c *Carts) loadUncached(ctx context.Context, userID string) (*domain.Cart, error) {
	if pending, ok := c.flusher.Pending(userID); ok {
		c.remember(ctx, pending)
		return pending, nil
	}

	cart, err := c.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(userID, c.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	c.remember(ctx, cart)
	return cart, nil
}

// loadAuthoritative flushes pending writes for userID and reads the store.
// Caller holds the user lock.
func (c *Carts) loadAuthoritative(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := c.flusher.Flush(ctx, userID); err != nil {
		return nil, err
	}
	cart, err := c.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cart.Status.IsTerminal() {
		return cart, nil
	}

	next, err := cart.Reopen(true, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.commit(ctx, cart, next); err != nil {
		return nil, fmt.Errorf("reopen cart: %w", err)
	}
	return next, nil
}

// settle reopens a terminal cart left behind by an interrupted transition.
// Only carts that were pending checkout become terminal, so an abandoned
// cart keeps its lines.
func (c *Carts) settle(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	if !cart.Status.IsTerminal() {
		return cart, nil
	}
	next, err := cart.Reopen(true, c.now())
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx, c.log).Info().
		Str("user_id", cart.UserID).
		Str("status", cart.Status.String()).
		Msg("reopening terminal cart")
	c.stage(ctx, next)
	return next, nil
}

// stage publishes next to the cache and queues it for the store.
func (c *Carts) stage(ctx context.Context, next *domain.Cart) {
	c.remember(ctx, next)
	c.flusher.Enqueue(next)
}

// commit atomically replaces prev with next in the store and mirrors the
// result into the cache. Both carts must come from loadAuthoritative or an
// earlier commit.
func (c *Carts) commit(ctx context.Context, prev, next *domain.Cart) error {
	if err := c.repo.CompareAndSwap(ctx, prev, next); err != nil {
		return err
	}
	c.remember(ctx, next)
	return nil
}

// remember writes cart to the cache. If that fails the entry is dropped so
// the next read falls through to the newer state.
func (c *Carts) remember(ctx context.Context, cart *domain.Cart) {
	err := c.cache.Set(ctx, cart.UserID, cart)
	if err == nil {
		return
	}
	log := logger.Ctx(ctx, c.log)
	if errors.Is(err, cache.ErrStaleWrite) {
		// Another writer got ahead. Dropping the entry sends the next read
		// to the store.
		log.Debug().Int64("version", cart.Version).Str("user_id", cart.UserID).Msg("cache holds newer cart")
	} else {
		log.Warn().Err(err).Str("user_id", cart.UserID).Msg("cache set error")
	}
	if errDel := c.cache.Delete(ctx, cart.UserID); errDel != nil {
		log.Error().Err(errDel).Str("user_id", cart.UserID).Msg("cache invalidate error")
	}
}
