// Package payment talks to the external payment processor.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrProcessorRejected    = errors.New("payment processor rejected the session")
)

type Processor interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// SessionRequest carries the frozen checkout snapshot. Repeating a request
// with the same IdempotencyKey returns the original session.
type SessionRequest struct {
	IdempotencyKey string
	Items          []domain.LineItem
	Total          decimal.Decimal
	Currency       string
}

// Session is the processor's answer. ExpiresAt is zero when the processor
// does not report one.
type Session struct {
	Ref       string
	ExpiresAt time.Time
}
