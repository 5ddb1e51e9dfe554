package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var price = decimal.RequireFromString("10.00")

func TestAddItem_MergesQuantities(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)

	require.NoError(t, cart.AddItem(1, 2, price, now))
	require.NoError(t, cart.AddItem(1, 3, decimal.RequireFromString("11.00"), now))

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].UnitPrice.Equal(decimal.RequireFromString("11.00")))
	assert.Equal(t, int64(2), cart.Version)
}

func TestAddItem_RejectsNonPositiveQuantity(t *testing.T) {
	cart := NewCart("user-1", time.Now())
	assert.ErrorIs(t, cart.AddItem(1, 0, price, time.Now()), ErrInvalidQuantity)
	assert.ErrorIs(t, cart.AddItem(1, -1, price, time.Now()), ErrInvalidQuantity)
	assert.ErrorIs(t, cart.AddItem(1, MaxQuantity+1, price, time.Now()), ErrInvalidQuantity)
	assert.True(t, cart.IsEmpty())
}

func TestSetQuantity_ZeroRemovesLine(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 2, price, now))

	require.NoError(t, cart.SetQuantity(1, 0, now))
	_, ok := cart.Item(1)
	assert.False(t, ok)
}

func TestSetQuantity_MissingLine(t *testing.T) {
	cart := NewCart("user-1", time.Now())
	assert.ErrorIs(t, cart.SetQuantity(7, 3, time.Now()), ErrNotFound)
}

func TestMutations_RejectedWhilePending(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 1, price, now))
	pending, err := cart.BeginCheckout("cs_1", now)
	require.NoError(t, err)

	assert.ErrorIs(t, pending.AddItem(2, 1, price, now), ErrInvalidState)
	assert.ErrorIs(t, pending.SetQuantity(1, 4, now), ErrInvalidState)
	assert.ErrorIs(t, pending.RemoveItem(1, now), ErrInvalidState)
	_, err = pending.Clear(now)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = pending.BeginCheckout("cs_2", now)
	assert.ErrorIs(t, err, ErrCheckoutAlreadyInProgress)
}

// Folding a random operation sequence by product id must give the same
// lines as applying the operations to a cart.
func TestCartOperations_FoldByProduct(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now()

	for run := 0; run < 200; run++ {
		cart := NewCart("user-1", now)
		expected := map[int64]int{}

		for step := 0; step < 30; step++ {
			productID := int64(rng.Intn(5) + 1)
			switch rng.Intn(3) {
			case 0:
				qty := rng.Intn(5) + 1
				err := cart.AddItem(productID, qty, price, now)
				if expected[productID]+qty > MaxQuantity {
					require.ErrorIs(t, err, ErrInvalidQuantity)
					continue
				}
				require.NoError(t, err)
				expected[productID] += qty
			case 1:
				require.NoError(t, cart.RemoveItem(productID, now))
				delete(expected, productID)
			case 2:
				qty := rng.Intn(4)
				err := cart.SetQuantity(productID, qty, now)
				_, present := expected[productID]
				switch {
				case qty == 0:
					require.NoError(t, err)
					delete(expected, productID)
				case !present:
					require.ErrorIs(t, err, ErrNotFound)
				default:
					require.NoError(t, err)
					expected[productID] = qty
				}
			}
		}

		got := map[int64]int{}
		for _, item := range cart.Items {
			require.GreaterOrEqual(t, item.Quantity, 1)
			_, dup := got[item.ProductID]
			require.False(t, dup, "duplicate line for product %d", item.ProductID)
			got[item.ProductID] = item.Quantity
		}
		assert.Equal(t, expected, got)
	}
}

func TestReopen_AbandonedRestoresLines(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 2, price, now))
	pending, err := cart.BeginCheckout("cs_1", now)
	require.NoError(t, err)

	abandoned, err := pending.Finish("cs_1", CartStatusAbandoned, now)
	require.NoError(t, err)

	reopened, err := abandoned.Reopen(true, now)
	require.NoError(t, err)
	assert.Equal(t, CartStatusOpen, reopened.Status)
	assert.NotEqual(t, cart.ID, reopened.ID)
	assert.Empty(t, reopened.SessionRef)
	assert.Equal(t, cart.Items, reopened.Items)
	assert.Greater(t, reopened.Version, abandoned.Version)
}

func TestReopen_CompletedStartsEmpty(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 2, price, now))
	pending, _ := cart.BeginCheckout("cs_1", now)
	completed, err := pending.Finish("cs_1", CartStatusCompleted, now)
	require.NoError(t, err)

	reopened, err := completed.Reopen(true, now)
	require.NoError(t, err)
	assert.True(t, reopened.IsEmpty())
}

func TestFinish_WrongSession(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 2, price, now))
	pending, _ := cart.BeginCheckout("cs_1", now)

	_, err := pending.Finish("cs_other", CartStatusCompleted, now)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = pending.Finish("cs_1", CartStatusOpen, now)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to CartStatus
		want     bool
	}{
		{CartStatusOpen, CartStatusPendingCheckout, true},
		{CartStatusOpen, CartStatusCompleted, false},
		{CartStatusPendingCheckout, CartStatusCompleted, true},
		{CartStatusPendingCheckout, CartStatusAbandoned, true},
		{CartStatusPendingCheckout, CartStatusOpen, false},
		{CartStatusCompleted, CartStatusOpen, false},
		{CartStatusAbandoned, CartStatusPendingCheckout, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestTotal_FixedPoint(t *testing.T) {
	now := time.Now()
	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 3, decimal.RequireFromString("0.10"), now))
	require.NoError(t, cart.AddItem(2, 1, decimal.RequireFromString("0.20"), now))

	assert.True(t, cart.Total().Equal(decimal.RequireFromString("0.50")))
}

func TestQuantizePrice_SubCent(t *testing.T) {
	now := time.Now()
	subCent := decimal.RequireFromString("10.005")

	line := NewLineItem(Product{ID: 1, Price: subCent}, 3)
	assert.Equal(t, "10.01", line.UnitPrice.String())
	assert.Equal(t, "30.03", line.LineTotal.String())
	assert.Equal(t, "30.03", SumLines([]LineItem{line}).StringFixed(MinorUnits))

	cart := NewCart("user-1", now)
	require.NoError(t, cart.AddItem(1, 3, subCent, now))
	assert.Equal(t, "10.01", cart.Items[0].UnitPrice.String())
	assert.True(t, cart.Total().Equal(line.LineTotal))

	assert.Equal(t, "-0.01", QuantizePrice(decimal.RequireFromString("-0.005")).String())
}
