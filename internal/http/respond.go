package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/payment"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps domain failures onto HTTP status codes. Anything
// unrecognised is logged and reported as an internal error.
func handleServiceError(w http.ResponseWriter, r *http.Request, l zerolog.Logger, err error) {
	var (
		unavailable *domain.ProductUnavailableError
		mismatch    *domain.ReconciliationError
	)

	switch {
	case errors.As(err, &unavailable):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   err.Error(),
			Code:    "product_unavailable",
			Details: "remove the product from the cart and try again",
		})
	case errors.As(err, &mismatch):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "reconciliation_required",
			Details: "session held for manual review",
		})
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrProductUnavailable):
		respondError(w, http.StatusUnprocessableEntity, "product_unavailable", err.Error())
	case errors.Is(err, domain.ErrCheckoutAlreadyInProgress):
		respondError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		respondError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		respondError(w, http.StatusConflict, "conflict", "cart changed concurrently, retry")
	case errors.Is(err, payment.ErrProcessorUnavailable):
		respondError(w, http.StatusServiceUnavailable, "processor_unavailable", "payment processor unavailable, retry later")
	case errors.Is(err, payment.ErrProcessorRejected):
		respondError(w, http.StatusBadGateway, "processor_rejected", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.Ctx(r.Context(), l).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
