package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/rs/zerolog"
)

type LikesAPI interface {
	Like(ctx context.Context, userID string, productID int64) error
	Unlike(ctx context.Context, userID string, productID int64) error
	ListLikes(ctx context.Context, userID string) ([]domain.Product, error)
}

type LikesHandler struct {
	likes   LikesAPI
	timeout time.Duration
	log     zerolog.Logger
}

func NewLikesHandler(likes LikesAPI, timeout time.Duration, log zerolog.Logger) *LikesHandler {
	return &LikesHandler{
		likes:   likes,
		timeout: timeout,
		log:     log,
	}
}

type ProductDTO struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       string   `json:"price"`
	Images      []string `json:"images"`
	Available   bool     `json:"available"`
}

func (h *LikesHandler) ListLikes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.likes.ListLikes(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		images := p.Images
		if images == nil {
			images = []string{}
		}
		out = append(out, ProductDTO{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price.StringFixed(2),
			Images:      images,
			Available:   p.Available,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"products": out})
}

func (h *LikesHandler) Like(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.likes.Like(ctx, getUserIDFromContext(r.Context()), productID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LikesHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.likes.Unlike(ctx, getUserIDFromContext(r.Context()), productID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
