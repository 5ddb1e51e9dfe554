package repository

import (
	"fmt"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// cartDocument is the stored shape of a cart. Prices are Decimal128 so the
// database never sees a float.
type cartDocument struct {
	CartID     string         `bson:"cart_id"`
	UserID     string         `bson:"user_id"`
	Status     string         `bson:"status"`
	SessionRef string         `bson:"session_ref,omitempty"`
	Items      []itemDocument `bson:"items"`
	Version    int64          `bson:"version"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ProductID int64                `bson:"product_id"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	AddedAt   time.Time            `bson:"added_at"`
}

type likeDocument struct {
	UserID    string    `bson:"user_id"`
	ProductID int64     `bson:"product_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func toDocument(c *domain.Cart) (*cartDocument, error) {
	items := make([]itemDocument, len(c.Items))
	for i, item := range c.Items {
		price, err := primitive.ParseDecimal128(item.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("encode price of product %d: %w", item.ProductID, err)
		}
		items[i] = itemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			AddedAt:   item.AddedAt,
		}
	}
	return &cartDocument{
		CartID:     c.ID,
		UserID:     c.UserID,
		Status:     string(c.Status),
		SessionRef: c.SessionRef,
		Items:      items,
		Version:    c.Version,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}, nil
}

func fromDocument(doc *cartDocument) (*domain.Cart, error) {
	items := make([]domain.CartItem, len(doc.Items))
	for i, item := range doc.Items {
		price, err := decimal.NewFromString(item.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("decode price of product %d: %w", item.ProductID, err)
		}
		items[i] = domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			AddedAt:   item.AddedAt,
		}
	}
	return &domain.Cart{
		ID:         doc.CartID,
		UserID:     doc.UserID,
		Status:     domain.CartStatus(doc.Status),
		SessionRef: doc.SessionRef,
		Items:      items,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}
