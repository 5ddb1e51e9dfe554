package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type sessionLineRequest struct {
	Price    string `json:"price"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Amount   string `json:"unit_amount"`
}

type createSessionRequest struct {
	Currency string               `json:"currency"`
	Total    string               `json:"amount_total"`
	Lines    []sessionLineRequest `json:"line_items"`
}

type createSessionResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// HTTPProcessor is a JSON client for the processor's session API, guarded by a
// circuit breaker so a failing processor does not hold user locks for the
// full timeout on every call.
type HTTPProcessor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Session]
	log     zerolog.Logger
}

func NewHTTPProcessor(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *HTTPProcessor {
	p := &HTTPProcessor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "payment").Logger(),
	}
	p.breaker = gobreaker.NewCircuitBreaker[*Session](gobreaker.Settings{
		Name:        "payment-processor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProcessorRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return p
}

func (p *HTTPProcessor) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	session, err := p.breaker.Execute(func() (*Session, error) {
		return p.createSession(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	return session, err
}

func (p *HTTPProcessor) createSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body := createSessionRequest{
		Currency: strings.ToLower(req.Currency),
		Total:    req.Total.StringFixed(2),
		Lines:    make([]sessionLineRequest, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		body.Lines = append(body.Lines, sessionLineRequest{
			Price:    item.ProcessorRef,
			Name:     item.Name,
			Quantity: item.Quantity,
			Amount:   item.UnitPrice.StringFixed(2),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrProcessorUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrProcessorUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrProcessorRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProcessorUnavailable, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: response has no session id", ErrProcessorUnavailable)
	}

	session := &Session{Ref: out.ID}
	if out.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(out.ExpiresAt, 0).UTC()
	}
	return session, nil
}
