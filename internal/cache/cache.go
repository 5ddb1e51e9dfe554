package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/basket-service/internal/domain"
)

// CartCache holds the latest known cart per user. It is never authoritative:
// any entry may be missing, and callers fall back to the store on a miss.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	// Set stores cart unless the entry already holds a newer version, in
	// which case it returns ErrStaleWrite and leaves the entry alone.
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrStaleWrite = errors.New("cache holds a newer cart version")
)
