package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutCompletedEvent is published once per completed session.
type CheckoutCompletedEvent struct {
	SessionRef  string          `json:"session_ref"`
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      string          `json:"user_id"`
	CartID      string          `json:"cart_id"`
	Items       []LineItem      `json:"items"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	CompletedAt time.Time       `json:"completed_at"`
}
