package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/service"
	"github.com/rs/zerolog"
)

type CheckoutAPI interface {
	BeginCheckout(ctx context.Context, userID string) (*service.CheckoutResult, error)
	GetCheckout(ctx context.Context, userID string) (*domain.CheckoutSession, error)
	CancelCheckout(ctx context.Context, userID string) error
}

type CheckoutHandler struct {
	checkout CheckoutAPI
	timeout  time.Duration
	log      zerolog.Logger
}

func NewCheckoutHandler(checkout CheckoutAPI, timeout time.Duration, log zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
		log:      log,
	}
}

type LineItemDTO struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type SessionDTO struct {
	SessionRef string        `json:"session_ref"`
	CartID     string        `json:"cart_id"`
	Status     string        `json:"status"`
	Items      []LineItemDTO `json:"items"`
	Total      string        `json:"total"`
	Currency   string        `json:"currency"`
	ExpiresAt  string        `json:"expires_at"`
}

type PriceChangeDTO struct {
	ProductID int64  `json:"product_id"`
	Previous  string `json:"previous"`
	Current   string `json:"current"`
}

type CheckoutResponseDTO struct {
	Session      SessionDTO       `json:"session"`
	PriceChanged bool             `json:"price_changed"`
	PriceChanges []PriceChangeDTO `json:"price_changes,omitempty"`
}

func toSessionDTO(s *domain.CheckoutSession) SessionDTO {
	items := make([]LineItemDTO, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, LineItemDTO{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal.StringFixed(2),
		})
	}
	return SessionDTO{
		SessionRef: s.Ref,
		CartID:     s.CartID,
		Status:     string(s.Status),
		Items:      items,
		Total:      s.Total.StringFixed(2),
		Currency:   s.Currency,
		ExpiresAt:  s.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (h *CheckoutHandler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.checkout.BeginCheckout(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	resp := CheckoutResponseDTO{
		Session:      toSessionDTO(result.Session),
		PriceChanged: result.PriceChanged(),
	}
	for _, c := range result.PriceChanges {
		resp.PriceChanges = append(resp.PriceChanges, PriceChangeDTO{
			ProductID: c.ProductID,
			Previous:  c.Previous.StringFixed(2),
			Current:   c.Current.StringFixed(2),
		})
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.checkout.GetCheckout(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toSessionDTO(session))
}

func (h *CheckoutHandler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.checkout.CancelCheckout(ctx, getUserIDFromContext(r.Context())); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
