package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator is an in-process processor for local development. Sessions are
// remembered per idempotency key.
type Simulator struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*Session
}

func NewSimulator(ttl time.Duration) *Simulator {
	return &Simulator{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (s *Simulator) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: no line items", ErrProcessorRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[req.IdempotencyKey]; ok {
		out := *existing
		return &out, nil
	}

	session := &Session{Ref: "cs_sim_" + uuid.NewString()}
	if s.ttl > 0 {
		session.ExpiresAt = s.now().Add(s.ttl)
	}
	s.sessions[req.IdempotencyKey] = session

	out := *session
	return &out, nil
}
