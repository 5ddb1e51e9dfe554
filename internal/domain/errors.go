package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnauthorized              = errors.New("unauthorized")
	ErrNotFound                  = errors.New("not found")
	ErrInvalidState              = errors.New("operation not valid for current state")
	ErrInvalidQuantity           = errors.New("quantity must be between 0 and 99")
	ErrEmptyCart                 = errors.New("cart is empty, nothing to checkout")
	ErrProductUnavailable        = errors.New("product is unavailable")
	ErrCheckoutAlreadyInProgress = errors.New("checkout already in progress")
	ErrReconciliationMismatch    = errors.New("confirmed amount does not match session total")
)

// ProductUnavailableError names the product that failed checkout validation.
type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is unavailable", e.ProductID)
}

func (e *ProductUnavailableError) Unwrap() error {
	return ErrProductUnavailable
}

// ReconciliationError carries both sides of a failed amount check.
type ReconciliationError struct {
	SessionRef string
	Expected   decimal.Decimal
	Confirmed  decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("session %s: expected %s, processor confirmed %s",
		e.SessionRef, e.Expected.StringFixed(2), e.Confirmed.StringFixed(2))
}

func (e *ReconciliationError) Unwrap() error {
	return ErrReconciliationMismatch
}
