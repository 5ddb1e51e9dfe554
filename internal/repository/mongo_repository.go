package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoCartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return fromDocument(&doc)
}

func (m *MongoCartRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	doc, err := toDocument(cart)
	if err != nil {
		return err
	}

	// The whole document is replaced so fields the new version omits, like
	// session_ref, do not survive. A newer stored version makes the filter
	// miss, and the upsert then collides with the unique user_id index: that
	// collision means stale.
	filter := bson.M{
		"user_id": cart.UserID,
		"version": bson.M{"$lt": cart.Version},
	}
	opts := options.Replace().SetUpsert(true)

	_, err = m.collection.ReplaceOne(ctx, filter, doc, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to save cart: %w", err)
	}

	return nil
}

func (m *MongoCartRepository) CompareAndSwap(ctx context.Context, prev, next *domain.Cart) error {
	doc, err := toDocument(next)
	if err != nil {
		return err
	}

	filter := bson.M{
		"user_id": prev.UserID,
		"version": prev.Version,
		"status":  string(prev.Status),
	}

	result, err := m.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("failed to swap cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	return nil
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
