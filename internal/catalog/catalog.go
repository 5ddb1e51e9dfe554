// Package catalog resolves product ids to their current price and
// availability. The core only ever reads from it.
package catalog

import (
	"context"

	"github.com/fjod/go_cart/basket-service/internal/domain"
)

// Reader fails with domain.ErrNotFound when the product does not exist.
type Reader interface {
	Resolve(ctx context.Context, productID int64) (domain.Product, error)
}
