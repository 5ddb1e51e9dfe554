package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoLikesRepository struct {
	collection *mongo.Collection
}

func NewMongoLikesRepository(db *mongo.Database) *MongoLikesRepository {
	return &MongoLikesRepository{
		collection: db.Collection("likes"),
	}
}

func (m *MongoLikesRepository) AddLike(ctx context.Context, userID string, productID int64) error {
	filter := bson.M{"user_id": userID, "product_id": productID}
	update := bson.M{
		"$setOnInsert": bson.M{"created_at": time.Now()},
	}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		// two concurrent upserts for the same pair: the loser sees the index
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to add like: %w", err)
	}
	return nil
}

func (m *MongoLikesRepository) RemoveLike(ctx context.Context, userID string, productID int64) error {
	filter := bson.M{"user_id": userID, "product_id": productID}
	if _, err := m.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to remove like: %w", err)
	}
	return nil
}

func (m *MongoLikesRepository) ListLikes(ctx context.Context, userID string) ([]domain.Like, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list likes: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []likeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode likes: %w", err)
	}

	likes := make([]domain.Like, len(docs))
	for i, doc := range docs {
		likes[i] = domain.Like{
			UserID:    doc.UserID,
			ProductID: doc.ProductID,
			CreatedAt: doc.CreatedAt,
		}
	}
	return likes, nil
}

func (m *MongoLikesRepository) CreateIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "product_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create likes index: %w", err)
	}
	return nil
}
