package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity a single cart line may hold.
const MaxQuantity = 99

// Cart is the single cart owned by a user. Version increases on every
// accepted change and orders writes between the cache and the store.
type Cart struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Status     CartStatus `json:"status"`
	SessionRef string     `json:"session_ref,omitempty"`
	Items      []CartItem `json:"items"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

// LineTotal is the snapshot price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func NewCart(userID string, now time.Time) *Cart {
	return &Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    CartStatusOpen,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Item returns the line for productID, if present.
func (c *Cart) Item(productID int64) (CartItem, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.Items[i], true
	}
	return CartItem{}, false
}

// Total sums the snapshot line totals.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// AddItem merges quantity into an existing line or appends a new one.
// The snapshot price is refreshed to price, quantized, in both cases.
func (c *Cart) AddItem(productID int64, quantity int, price decimal.Decimal, now time.Time) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	price = QuantizePrice(price)

	if i := c.indexOf(productID); i >= 0 {
		merged := c.Items[i].Quantity + quantity
		if merged > MaxQuantity {
			return ErrInvalidQuantity
		}
		c.Items[i].Quantity = merged
		c.Items[i].UnitPrice = price
		c.touch(now)
		return nil
	}

	if quantity > MaxQuantity {
		return ErrInvalidQuantity
	}
	c.Items = append(c.Items, CartItem{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: price,
		AddedAt:   now,
	})
	c.touch(now)
	return nil
}

// SetQuantity replaces the quantity of an existing line; zero removes it.
func (c *Cart) SetQuantity(productID int64, quantity int, now time.Time) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if quantity < 0 || quantity > MaxQuantity {
		return ErrInvalidQuantity
	}
	if quantity == 0 {
		return c.RemoveItem(productID, now)
	}

	i := c.indexOf(productID)
	if i < 0 {
		return ErrNotFound
	}
	c.Items[i].Quantity = quantity
	c.touch(now)
	return nil
}

// RemoveItem drops the line for productID. Removing an absent line is a no-op.
func (c *Cart) RemoveItem(productID int64, now time.Time) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	i := c.indexOf(productID)
	if i < 0 {
		return nil
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.touch(now)
	return nil
}

// Clear empties the cart. Any non-pending cart may be cleared; terminal
// carts are replaced by a new empty Open cart.
func (c *Cart) Clear(now time.Time) (*Cart, error) {
	switch c.Status {
	case CartStatusPendingCheckout:
		return nil, ErrInvalidState
	case CartStatusOpen:
		next := c.Clone()
		next.Items = []CartItem{}
		next.touch(now)
		return next, nil
	case CartStatusCompleted, CartStatusAbandoned:
		next := NewCart(c.UserID, now)
		next.Version = c.Version + 1
		return next, nil
	default:
		return nil, ErrInvalidState
	}
}

// BeginCheckout returns the frozen copy of c linked to sessionRef.
func (c *Cart) BeginCheckout(sessionRef string, now time.Time) (*Cart, error) {
	if !CanTransitionTo(c.Status, CartStatusPendingCheckout) {
		if c.Status == CartStatusPendingCheckout {
			return nil, ErrCheckoutAlreadyInProgress
		}
		return nil, ErrInvalidState
	}
	next := c.Clone()
	next.Status = CartStatusPendingCheckout
	next.SessionRef = sessionRef
	next.touch(now)
	return next, nil
}

// Finish moves a pending cart linked to sessionRef into a terminal state.
func (c *Cart) Finish(sessionRef string, to CartStatus, now time.Time) (*Cart, error) {
	if !CanTransitionTo(c.Status, to) || !to.IsTerminal() {
		return nil, ErrInvalidState
	}
	if c.SessionRef != sessionRef {
		return nil, ErrInvalidState
	}
	next := c.Clone()
	next.Status = to
	next.touch(now)
	return next, nil
}

// Reopen replaces a terminal cart with a fresh Open cart. An abandoned cart
// keeps its lines when restoreLines is set.
func (c *Cart) Reopen(restoreLines bool, now time.Time) (*Cart, error) {
	if !c.Status.IsTerminal() {
		return nil, ErrInvalidState
	}
	next := NewCart(c.UserID, now)
	next.Version = c.Version + 1
	if c.Status == CartStatusAbandoned && restoreLines {
		next.Items = make([]CartItem, len(c.Items))
		copy(next.Items, c.Items)
	}
	return next, nil
}

func (c *Cart) requireOpen() error {
	if c.Status != CartStatusOpen {
		return ErrInvalidState
	}
	return nil
}

func (c *Cart) indexOf(productID int64) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) touch(now time.Time) {
	c.Version++
	c.UpdatedAt = now
}
