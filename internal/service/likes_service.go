package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/basket-service/internal/catalog"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/rs/zerolog"
)

type LikesService struct {
	repo    repository.LikesRepository
	catalog catalog.Reader
	log     zerolog.Logger
}

func NewLikesService(repo repository.LikesRepository, reader catalog.Reader, log zerolog.Logger) *LikesService {
	return &LikesService{
		repo:    repo,
		catalog: reader,
		log:     log.With().Str("component", "likes").Logger(),
	}
}

// Like is idempotent. Unknown products are rejected.
func (s *LikesService) Like(ctx context.Context, userID string, productID int64) error {
	if _, err := s.catalog.Resolve(ctx, productID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("resolve product %d: %w", productID, err)
	}
	return s.repo.AddLike(ctx, userID, productID)
}

func (s *LikesService) Unlike(ctx context.Context, userID string, productID int64) error {
	return s.repo.RemoveLike(ctx, userID, productID)
}

// ListLikes returns liked products in the order they were liked. Products
// that have left the catalog are skipped but their likes are kept.
func (s *LikesService) ListLikes(ctx context.Context, userID string) ([]domain.Product, error) {
	likes, err := s.repo.ListLikes(ctx, userID)
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(likes))
	for _, like := range likes {
		p, err := s.catalog.Resolve(ctx, like.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Ctx(ctx, s.log).Debug().
				Str("user_id", userID).
				Int64("product_id", like.ProductID).
				Msg("liked product no longer in catalog")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", like.ProductID, err)
		}
		products = append(products, p)
	}
	return products, nil
}
