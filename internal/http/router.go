// Package http exposes the cart, checkout and likes operations over REST.
package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Carts    CartAPI
	Checkout CheckoutAPI
	Likes    LikesAPI
	Confirm  PaymentConfirmer
	Verifier identity.Verifier
	Log      zerolog.Logger

	WebhookSecret      string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	CORSAllowOrigins   []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20 // 1MB
	}

	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout, cfg.Log)
	checkoutHandler := NewCheckoutHandler(cfg.Checkout, cfg.RequestTimeout, cfg.Log)
	likesHandler := NewLikesHandler(cfg.Likes, cfg.RequestTimeout, cfg.Log)
	webhookHandler := NewWebhookHandler(cfg.Confirm, cfg.WebhookSecret, cfg.RequestTimeout, cfg.Log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(LimitBody(cfg.MaxRequestBodySize))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/payments/confirmed", webhookHandler.PaymentConfirmed)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{product_id}", cartHandler.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", checkoutHandler.GetCheckout)
			r.Post("/", checkoutHandler.BeginCheckout)
			r.Delete("/", checkoutHandler.CancelCheckout)
		})

		r.Route("/likes", func(r chi.Router) {
			r.Get("/", likesHandler.ListLikes)
			r.Put("/{product_id}", likesHandler.Like)
			r.Delete("/{product_id}", likesHandler.Unlike)
		})
	})

	return otelhttp.NewHandler(r, "basket-service")
}
