package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultSessionTTL applies when the processor does not report an expiry.
const DefaultSessionTTL = 30 * time.Minute

// LineItem is one validated, priced line of a checkout snapshot.
type LineItem struct {
	ProductID    int64           `json:"product_id"`
	ProcessorRef string          `json:"processor_ref"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// CheckoutSession is keyed by the processor's session reference and points
// back at the cart it froze.
type CheckoutSession struct {
	Ref           string          `json:"session_ref"`
	UserID        string          `json:"user_id"`
	CartID        string          `json:"cart_id"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        SessionStatus   `json:"status"`
	AbandonReason AbandonReason   `json:"abandon_reason,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SumLines recomputes the total from the line snapshot.
func SumLines(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}

// NewLineItem prices quantity units of p.
func NewLineItem(p Product, quantity int) LineItem {
	unit := QuantizePrice(p.Price)
	return LineItem{
		ProductID:    p.ID,
		ProcessorRef: p.ProcessorRef,
		Name:         p.Name,
		Quantity:     quantity,
		UnitPrice:    unit,
		LineTotal:    unit.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// PriceChange is the advisory reported when checkout re-pricing differs
// from the add-to-cart snapshot.
type PriceChange struct {
	ProductID int64           `json:"product_id"`
	Previous  decimal.Decimal `json:"previous"`
	Current   decimal.Decimal `json:"current"`
}

// Order is the durable record written when a session completes.
type Order struct {
	ID         uuid.UUID
	SessionRef string
	UserID     string
	Items      []LineItem
	Total      decimal.Decimal
	Currency   string
	CreatedAt  time.Time
}

// ReconciliationIssue is written whenever a processor confirmation cannot be
// applied cleanly. It is never resolved automatically.
type ReconciliationIssue struct {
	SessionRef string
	Expected   decimal.Decimal
	Confirmed  decimal.Decimal
	Reason     string
	DetectedAt time.Time
}

// PaymentConfirmation is the processor's asynchronous settlement event.
type PaymentConfirmation struct {
	SessionRef      string          `json:"session_ref"`
	ConfirmedAmount decimal.Decimal `json:"confirmed_amount"`
}
