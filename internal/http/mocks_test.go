package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/identity"
	"github.com/fjod/go_cart/basket-service/internal/service"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	testSecret        = "test-signing-key"
	testWebhookSecret = "whsec_test"
)

type CartMock struct {
	cart *domain.Cart
	err  error

	lastProductID int64
	lastQuantity  int
}

func (m *CartMock) GetCart(_ context.Context, _ string) (*domain.Cart, error) {
	return m.cart, m.err
}

func (m *CartMock) AddItem(_ context.Context, _ string, productID int64, quantity int) (*domain.Cart, error) {
	m.lastProductID, m.lastQuantity = productID, quantity
	return m.cart, m.err
}

func (m *CartMock) RemoveItem(_ context.Context, _ string, productID int64) (*domain.Cart, error) {
	m.lastProductID = productID
	return m.cart, m.err
}

func (m *CartMock) SetQuantity(_ context.Context, _ string, productID int64, quantity int) (*domain.Cart, error) {
	m.lastProductID, m.lastQuantity = productID, quantity
	return m.cart, m.err
}

func (m *CartMock) ClearCart(_ context.Context, _ string) (*domain.Cart, error) {
	return m.cart, m.err
}

type CheckoutMock struct {
	result  *service.CheckoutResult
	session *domain.CheckoutSession
	err     error
	userID  string
}

func (m *CheckoutMock) BeginCheckout(_ context.Context, userID string) (*service.CheckoutResult, error) {
	m.userID = userID
	return m.result, m.err
}

func (m *CheckoutMock) GetCheckout(_ context.Context, userID string) (*domain.CheckoutSession, error) {
	m.userID = userID
	return m.session, m.err
}

func (m *CheckoutMock) CancelCheckout(_ context.Context, userID string) error {
	m.userID = userID
	return m.err
}

type LikesMock struct {
	products []domain.Product
	err      error
	liked    []int64
}

func (m *LikesMock) Like(_ context.Context, _ string, productID int64) error {
	if m.err != nil {
		return m.err
	}
	m.liked = append(m.liked, productID)
	return nil
}

func (m *LikesMock) Unlike(_ context.Context, _ string, _ int64) error {
	return m.err
}

func (m *LikesMock) ListLikes(_ context.Context, _ string) ([]domain.Product, error) {
	return m.products, m.err
}

type ConfirmMock struct {
	got *domain.PaymentConfirmation
	err error
}

func (m *ConfirmMock) ConfirmPayment(_ context.Context, conf domain.PaymentConfirmation) error {
	m.got = &conf
	return m.err
}

type testServer struct {
	handler  http.Handler
	carts    *CartMock
	checkout *CheckoutMock
	likes    *LikesMock
	confirm  *ConfirmMock
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	verifier, err := identity.NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	token, err := verifier.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	s := &testServer{
		carts:    &CartMock{cart: sampleCart()},
		checkout: &CheckoutMock{},
		likes:    &LikesMock{},
		confirm:  &ConfirmMock{},
		token:    token,
	}
	s.handler = NewRouter(RouterConfig{
		Carts:              s.carts,
		Checkout:           s.checkout,
		Likes:              s.likes,
		Confirm:            s.confirm,
		Verifier:           verifier,
		Log:                zerolog.Nop(),
		WebhookSecret:      testWebhookSecret,
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1 << 10,
		CORSAllowOrigins:   []string{"*"},
	})
	return s
}

func (s *testServer) do(method, path string, body io.Reader, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func sampleCart() *domain.Cart {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cart := domain.NewCart("user-1", now)
	_ = cart.AddItem(1, 2, decimal.RequireFromString("10.00"), now)
	_ = cart.AddItem(2, 1, decimal.RequireFromString("0.50"), now)
	return cart
}

func sampleSession() *domain.CheckoutSession {
	total := decimal.RequireFromString("20.50")
	return &domain.CheckoutSession{
		Ref:      "cs_test_1",
		UserID:   "user-1",
		CartID:   "cart-1",
		Status:   domain.SessionStatusPending,
		Currency: "USD",
		Total:    total,
		Items: []domain.LineItem{{
			ProductID: 1,
			Name:      "Laptop",
			Quantity:  1,
			UnitPrice: total,
			LineTotal: total,
		}},
		ExpiresAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
