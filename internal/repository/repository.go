package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/basket-service/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrVersionConflict = errors.New("cart was modified concurrently")
)

// CartRepository is the durable, authoritative cart store. Carts are keyed by
// user id; writes are ordered by Cart.Version.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// SaveCart writes cart only if it is newer than the stored copy. Saving
	// the same or an older version is a no-op.
	SaveCart(ctx context.Context, cart *domain.Cart) error
	// CompareAndSwap replaces prev with next only while the stored cart still
	// has prev's version and status. Returns ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, prev, next *domain.Cart) error
}

type LikesRepository interface {
	AddLike(ctx context.Context, userID string, productID int64) error
	RemoveLike(ctx context.Context, userID string, productID int64) error
	ListLikes(ctx context.Context, userID string) ([]domain.Like, error)
}
