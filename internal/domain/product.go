package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places a price carries.
const MinorUnits = 2

// QuantizePrice rounds d half away from zero to the minor unit. Every stored
// price and total is quantized so the processor amount and the session total
// compare equal.
func QuantizePrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

type Product struct {
	ID           int64           `json:"id"`
	ProcessorRef string          `json:"processor_ref"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Images       []string        `json:"images"`
	Available    bool            `json:"available"`
}

type Like struct {
	UserID    string
	ProductID int64
	CreatedAt time.Time
}
