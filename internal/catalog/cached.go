package catalog

import (
	"context"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedReader keeps recently resolved products for display pricing at
// add-to-cart time. Checkout must resolve through the underlying Reader.
type CachedReader struct {
	next  Reader
	cache *expirable.LRU[int64, domain.Product]
}

func NewCachedReader(next Reader, size int, ttl time.Duration) *CachedReader {
	if size <= 0 {
		size = 1024
	}
	return &CachedReader{
		next:  next,
		cache: expirable.NewLRU[int64, domain.Product](size, nil, ttl),
	}
}

// Resolve serves from cache when possible. Failures are never cached.
func (c *CachedReader) Resolve(ctx context.Context, productID int64) (domain.Product, error) {
	if p, ok := c.cache.Get(productID); ok {
		return p, nil
	}

	p, err := c.next.Resolve(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	c.cache.Add(productID, p)
	return p, nil
}

// Uncached exposes the authoritative reader.
func (c *CachedReader) Uncached() Reader {
	return c.next
}
