package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/basket-service/internal/cache"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/keylock"
	"github.com/fjod/go_cart/basket-service/internal/payment"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
	"github.com/fjod/go_cart/basket-service/internal/writebehind"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// mockCartRepository keeps the store's ordering rules: SaveCart only moves
// forward, CompareAndSwap needs the exact version and status.
type mockCartRepository struct {
	m     sync.Mutex
	carts map[string]*domain.Cart
	saves int
	err   error
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (m *mockCartRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	if cur, ok := m.carts[cart.UserID]; ok && cur.Version >= cart.Version {
		return nil
	}
	m.carts[cart.UserID] = cart.Clone()
	return nil
}

func (m *mockCartRepository) CompareAndSwap(_ context.Context, prev, next *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	cur, ok := m.carts[prev.UserID]
	if !ok || cur.Version != prev.Version || cur.Status != prev.Status {
		return repository.ErrVersionConflict
	}
	m.carts[prev.UserID] = next.Clone()
	return nil
}

func (m *mockCartRepository) stored(userID string) *domain.Cart {
	m.m.Lock()
	defer m.m.Unlock()
	return m.carts[userID].Clone()
}

func (m *mockCartRepository) setErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.err = err
}

type mockSessions struct {
	m        sync.Mutex
	sessions map[string]*domain.CheckoutSession
	orders   map[string]*domain.Order
	issues   []*domain.ReconciliationIssue
	events   []*sessionstore.OutboxEvent
	settled  map[string]bool
}

func newMockSessions() *mockSessions {
	return &mockSessions{
		sessions: make(map[string]*domain.CheckoutSession),
		orders:   make(map[string]*domain.Order),
		settled:  make(map[string]bool),
	}
}

func copySession(s *domain.CheckoutSession) *domain.CheckoutSession {
	out := *s
	out.Items = append([]domain.LineItem(nil), s.Items...)
	return &out
}

func (m *mockSessions) CreateSession(_ context.Context, s *domain.CheckoutSession) error {
	m.m.Lock()
	defer m.m.Unlock()
	if _, ok := m.sessions[s.Ref]; ok {
		return sessionstore.ErrDuplicateSession
	}
	m.sessions[s.Ref] = copySession(s)
	return nil
}

func (m *mockSessions) GetSession(_ context.Context, ref string) (*domain.CheckoutSession, error) {
	m.m.Lock()
	defer m.m.Unlock()
	s, ok := m.sessions[ref]
	if !ok {
		return nil, sessionstore.ErrSessionNotFound
	}
	return copySession(s), nil
}

func (m *mockSessions) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.CheckoutSession, error) {
	m.m.Lock()
	defer m.m.Unlock()
	var out []*domain.CheckoutSession
	for _, s := range m.sessions {
		if s.Status == domain.SessionStatusPending && !s.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (m *mockSessions) ListUnsettled(_ context.Context, limit int) ([]*domain.CheckoutSession, error) {
	m.m.Lock()
	defer m.m.Unlock()
	var out []*domain.CheckoutSession
	for ref, s := range m.sessions {
		terminal := s.Status == domain.SessionStatusCompleted || s.Status == domain.SessionStatusAbandoned
		if terminal && !m.settled[ref] && len(out) < limit {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (m *mockSessions) MarkCartSettled(_ context.Context, ref string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if _, ok := m.sessions[ref]; ok {
		m.settled[ref] = true
	}
	return nil
}

func (m *mockSessions) isSettled(ref string) bool {
	m.m.Lock()
	defer m.m.Unlock()
	return m.settled[ref]
}

// recordIssue mirrors the unique (session_ref, reason, confirmed) index.
func (m *mockSessions) recordIssue(issue *domain.ReconciliationIssue) {
	for _, i := range m.issues {
		if i.SessionRef == issue.SessionRef && i.Reason == issue.Reason && i.Confirmed.Equal(issue.Confirmed) {
			return
		}
	}
	m.issues = append(m.issues, issue)
}

func (m *mockSessions) transition(ref string, to domain.SessionStatus) bool {
	s, ok := m.sessions[ref]
	if !ok || s.Status != domain.SessionStatusPending {
		return false
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return true
}

func (m *mockSessions) AbandonSession(_ context.Context, ref string, reason domain.AbandonReason) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if !m.transition(ref, domain.SessionStatusAbandoned) {
		return false, nil
	}
	m.sessions[ref].AbandonReason = reason
	return true, nil
}

func (m *mockSessions) CompleteSession(_ context.Context, order *domain.Order, event *sessionstore.OutboxEvent) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if _, ok := m.orders[order.SessionRef]; ok {
		return false, sessionstore.ErrDuplicateOrder
	}
	if !m.transition(order.SessionRef, domain.SessionStatusCompleted) {
		return false, nil
	}
	m.orders[order.SessionRef] = order
	m.events = append(m.events, event)
	return true, nil
}

func (m *mockSessions) MarkManualReview(_ context.Context, issue *domain.ReconciliationIssue) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if !m.transition(issue.SessionRef, domain.SessionStatusManualReview) {
		return false, nil
	}
	m.recordIssue(issue)
	return true, nil
}

func (m *mockSessions) RecordIssue(_ context.Context, issue *domain.ReconciliationIssue) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.recordIssue(issue)
	return nil
}

func (m *mockSessions) ListIssues(_ context.Context, ref string) ([]*domain.ReconciliationIssue, error) {
	m.m.Lock()
	defer m.m.Unlock()
	var out []*domain.ReconciliationIssue
	for _, i := range m.issues {
		if i.SessionRef == ref {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *mockSessions) GetOrderBySession(_ context.Context, ref string) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, sessionstore.ErrOrderNotFound
	}
	return o, nil
}

func (m *mockSessions) GetUnprocessedEvents(context.Context, int) ([]*sessionstore.OutboxEvent, error) {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]*sessionstore.OutboxEvent(nil), m.events...), nil
}

func (m *mockSessions) MarkEventAsProcessed(context.Context, uuid.UUID) error { return nil }

func (m *mockSessions) Close() error { return nil }

func (m *mockSessions) count() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.sessions)
}

func (m *mockSessions) orderCount() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.orders)
}

func (m *mockSessions) issueCount() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.issues)
}

type mockCatalog struct {
	m        sync.Mutex
	products map[int64]domain.Product
	err      error
}

func newMockCatalog(products ...domain.Product) *mockCatalog {
	c := &mockCatalog{products: make(map[int64]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *mockCatalog) Resolve(_ context.Context, productID int64) (domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return domain.Product{}, c.err
	}
	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *mockCatalog) setPrice(productID int64, price string) {
	c.m.Lock()
	defer c.m.Unlock()
	p := c.products[productID]
	p.Price = decimal.RequireFromString(price)
	c.products[productID] = p
}

func (c *mockCatalog) setAvailable(productID int64, available bool) {
	c.m.Lock()
	defer c.m.Unlock()
	p := c.products[productID]
	p.Available = available
	c.products[productID] = p
}

func (c *mockCatalog) remove(productID int64) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.products, productID)
}

type mockProcessor struct {
	m        sync.Mutex
	calls    int
	sessions map[string]*payment.Session
	err      error
	ttl      time.Duration
	delay    time.Duration
	hook     func() // runs inside the call, before it returns
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{sessions: make(map[string]*payment.Session)}
}

func (p *mockProcessor) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.m.Lock()
	p.calls++
	delay, err, hook := p.delay, p.err, p.hook
	p.m.Unlock()

	if hook != nil {
		hook()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	p.m.Lock()
	defer p.m.Unlock()
	if s, ok := p.sessions[req.IdempotencyKey]; ok {
		out := *s
		return &out, nil
	}
	s := &payment.Session{Ref: "cs_" + uuid.NewString()}
	if p.ttl > 0 {
		s.ExpiresAt = time.Now().Add(p.ttl)
	}
	p.sessions[req.IdempotencyKey] = s
	out := *s
	return &out, nil
}

func (p *mockProcessor) callCount() int {
	p.m.Lock()
	defer p.m.Unlock()
	return p.calls
}

type mockLikesRepository struct {
	m     sync.Mutex
	likes []domain.Like
	err   error
}

func (m *mockLikesRepository) AddLike(_ context.Context, userID string, productID int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, l := range m.likes {
		if l.UserID == userID && l.ProductID == productID {
			return nil
		}
	}
	m.likes = append(m.likes, domain.Like{UserID: userID, ProductID: productID, CreatedAt: time.Now()})
	return nil
}

func (m *mockLikesRepository) RemoveLike(_ context.Context, userID string, productID int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	for i, l := range m.likes {
		if l.UserID == userID && l.ProductID == productID {
			m.likes = append(m.likes[:i], m.likes[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockLikesRepository) ListLikes(_ context.Context, userID string) ([]domain.Like, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Like
	for _, l := range m.likes {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

var errStoreDown = errors.New("store unavailable")

func product(id int64, price string) domain.Product {
	return domain.Product{
		ID:           id,
		ProcessorRef: "price_" + uuid.NewString()[:8],
		Name:         "Product",
		Price:        decimal.RequireFromString(price),
		Available:    true,
	}
}

type harness struct {
	repo      *mockCartRepository
	sessions  *mockSessions
	catalog   *mockCatalog
	processor *mockProcessor
	flusher   *writebehind.Flusher
	redis     *miniredis.Miniredis
	carts     *Carts
	cart      *CartService
	checkout  *CheckoutService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := &harness{
		repo:      newMockCartRepository(),
		sessions:  newMockSessions(),
		catalog:   newMockCatalog(product(1, "10.00"), product(2, "2.50"), product(3, "0.10")),
		processor: newMockProcessor(),
		redis:     mr,
	}
	h.flusher = writebehind.New(h.repo, zerolog.Nop(), writebehind.Options{
		Workers:         2,
		InitialInterval: time.Millisecond,
		MaxElapsed:      50 * time.Millisecond,
	})
	h.carts = NewCarts(h.repo, cache.NewRedisCache(client, time.Minute), h.flusher, keylock.New(16), zerolog.Nop())
	h.cart = NewCartService(h.carts, h.catalog, zerolog.Nop())
	h.checkout = h.newCheckout(h.carts)
	return h
}

// newCheckout builds a checkout service over the shared stores, as a second
// process would.
func (h *harness) newCheckout(carts *Carts) *CheckoutService {
	return NewCheckoutService(carts, h.sessions, h.catalog, h.processor, CheckoutConfig{
		Currency:         "USD",
		ProcessorTimeout: time.Second,
	}, zerolog.Nop())
}

// peer returns a second instance with its own locks, cache view and flusher
// over the same durable stores.
func (h *harness) peer(t *testing.T) *CheckoutService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	flusher := writebehind.New(h.repo, zerolog.Nop(), writebehind.Options{})
	carts := NewCarts(h.repo, cache.NewRedisCache(client, time.Minute), flusher, keylock.New(16), zerolog.Nop())
	return h.newCheckout(carts)
}

func (h *harness) addItems(t *testing.T, userID string, lines map[int64]int) {
	t.Helper()
	for productID, qty := range lines {
		_, err := h.cart.AddItem(context.Background(), userID, productID, qty)
		require.NoError(t, err)
	}
}
