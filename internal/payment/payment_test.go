package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() SessionRequest {
	item := domain.NewLineItem(domain.Product{
		ID:           1,
		ProcessorRef: "price_laptop",
		Name:         "Laptop",
		Price:        decimal.RequireFromString("12.00"),
	}, 2)
	return SessionRequest{
		IdempotencyKey: "cart-1:3",
		Items:          []domain.LineItem{item},
		Total:          domain.SumLines([]domain.LineItem{item}),
		Currency:       "USD",
	}
}

func TestHTTPProcessor_CreateSession(t *testing.T) {
	expires := time.Now().Add(time.Hour).Unix()
	var got createSessionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "cart-1:3", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(createSessionResponse{ID: "cs_123", ExpiresAt: expires})
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "sk_test", time.Second, zerolog.Nop())
	session, err := p.CreateSession(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "cs_123", session.Ref)
	assert.Equal(t, expires, session.ExpiresAt.Unix())
	assert.Equal(t, "24.00", got.Total)
	assert.Equal(t, "usd", got.Currency)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "price_laptop", got.Lines[0].Price)
	assert.Equal(t, "12.00", got.Lines[0].Amount)
}

func TestHTTPProcessor_NoExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cs_1"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "", time.Second, zerolog.Nop())
	session, err := p.CreateSession(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.IsZero())
}

func TestHTTPProcessor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, "", ErrProcessorUnavailable},
		{"rejected", http.StatusBadRequest, `{"error":"bad price"}`, ErrProcessorRejected},
		{"garbage body", http.StatusOK, "not json", ErrProcessorUnavailable},
		{"missing id", http.StatusOK, `{}`, ErrProcessorUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProcessor(srv.URL, "", time.Second, zerolog.Nop())
			_, err := p.CreateSession(context.Background(), sampleRequest())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPProcessor_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "", time.Second, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.CreateSession(ctx, sampleRequest())
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestHTTPProcessor_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "", time.Second, zerolog.Nop())
	for i := 0; i < 5; i++ {
		_, err := p.CreateSession(context.Background(), sampleRequest())
		require.ErrorIs(t, err, ErrProcessorUnavailable)
	}

	_, err := p.CreateSession(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
	assert.Equal(t, int32(5), calls.Load(), "open breaker must not reach the processor")
}

func TestHTTPProcessor_RejectionsDoNotTrip(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "", time.Second, zerolog.Nop())
	for i := 0; i < 7; i++ {
		_, err := p.CreateSession(context.Background(), sampleRequest())
		require.ErrorIs(t, err, ErrProcessorRejected)
	}
	assert.Equal(t, int32(7), calls.Load())
}

func TestSimulator_IdempotentSessions(t *testing.T) {
	sim := NewSimulator(30 * time.Minute)

	first, err := sim.CreateSession(context.Background(), sampleRequest())
	require.NoError(t, err)
	second, err := sim.CreateSession(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, first.Ref, second.Ref)
	assert.False(t, first.ExpiresAt.IsZero())

	other := sampleRequest()
	other.IdempotencyKey = "cart-1:4"
	third, err := sim.CreateSession(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.Ref, third.Ref)
}

func TestSimulator_RejectsEmpty(t *testing.T) {
	sim := NewSimulator(0)
	_, err := sim.CreateSession(context.Background(), SessionRequest{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrProcessorRejected)
}
