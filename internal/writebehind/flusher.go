// Package writebehind propagates cached cart mutations to the durable store.
//
// Each user has at most one pending cart: a newer version replaces an older
// one before it is written, so a backlog collapses to "latest wins". A user is
// always served by the same worker, and the store ignores versions older than
// what it holds, so a late retry can never resurrect an older cart.
package writebehind

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/fjod/go_cart/basket-service/internal/keylock"
	"github.com/rs/zerolog"
)

type CartWriter interface {
	SaveCart(ctx context.Context, cart *domain.Cart) error
}

type Options struct {
	Workers         int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

type Flusher struct {
	writer CartWriter
	log    zerolog.Logger
	opts   Options
	shards []*shard
	wg     sync.WaitGroup
}

type shard struct {
	mu       sync.Mutex
	pending  map[string]*domain.Cart
	inflight map[string]*write
	notify   chan struct{}
}

type write struct {
	cart *domain.Cart
	done chan struct{}
}

func New(writer CartWriter, log zerolog.Logger, opts Options) *Flusher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}

	shards := make([]*shard, opts.Workers)
	for i := range shards {
		shards[i] = &shard{
			pending:  make(map[string]*domain.Cart),
			inflight: make(map[string]*write),
			notify:   make(chan struct{}, 1),
		}
	}
	return &Flusher{
		writer: writer,
		log:    log.With().Str("component", "writebehind").Logger(),
		opts:   opts,
		shards: shards,
	}
}

// Enqueue schedules cart for persistence. It never blocks on the store.
func (f *Flusher) Enqueue(cart *domain.Cart) {
	s := f.shardFor(cart.UserID)

	s.mu.Lock()
	if cur, ok := s.pending[cart.UserID]; !ok || cart.Version > cur.Version {
		s.pending[cart.UserID] = cart.Clone()
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pending returns the newest cart for userID that has not reached the store yet.
func (f *Flusher) Pending(userID string) (*domain.Cart, bool) {
	s := f.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.pending[userID]; ok {
		return cart.Clone(), true
	}
	if w, ok := s.inflight[userID]; ok {
		return w.cart.Clone(), true
	}
	return nil, false
}

// Flush synchronously persists whatever is pending for userID, waiting for a
// write already in progress. On return without error the store holds the
// newest cart enqueued before the call.
func (f *Flusher) Flush(ctx context.Context, userID string) error {
	s := f.shardFor(userID)

	for {
		s.mu.Lock()
		if w, busy := s.inflight[userID]; busy {
			s.mu.Unlock()
			select {
			case <-w.done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		w, ok := s.take(userID)
		s.mu.Unlock()
		if !ok {
			return nil
		}

		err := f.save(ctx, w.cart)
		s.finish(userID, w, err)
		if err != nil {
			return fmt.Errorf("flush cart for user %s: %w", userID, err)
		}
	}
}

// Run starts one worker per shard and blocks until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	for _, s := range f.shards {
		f.wg.Add(1)
		go func(s *shard) {
			defer f.wg.Done()
			f.work(ctx, s)
		}(s)
	}
	f.wg.Wait()
}

// Drain makes a last attempt to write everything still pending. Used on
// shutdown after Run has returned.
func (f *Flusher) Drain(ctx context.Context) {
	for _, s := range f.shards {
		f.drain(ctx, s)
	}
}

func (f *Flusher) work(ctx context.Context, s *shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
			f.drain(ctx, s)
		}
	}
}

func (f *Flusher) drain(ctx context.Context, s *shard) {
	for ctx.Err() == nil {
		s.mu.Lock()
		var userID string
		for id := range s.pending {
			if _, busy := s.inflight[id]; !busy {
				userID = id
				break
			}
		}
		if userID == "" {
			s.mu.Unlock()
			return
		}
		w, _ := s.take(userID)
		s.mu.Unlock()

		err := f.save(ctx, w.cart)
		s.finish(userID, w, err)
		if err != nil {
			f.log.Error().Err(err).
				Str("user_id", userID).
				Int64("version", w.cart.Version).
				Msg("cart flush failed, will retry")
		}
	}
}

func (f *Flusher) save(ctx context.Context, cart *domain.Cart) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialInterval
	b.MaxElapsedTime = f.opts.MaxElapsed

	return backoff.RetryNotify(
		func() error { return f.writer.SaveCart(ctx, cart) },
		backoff.WithContext(b, ctx),
		func(err error, wait time.Duration) {
			f.log.Warn().Err(err).
				Str("user_id", cart.UserID).
				Dur("retry_in", wait).
				Msg("cart flush attempt failed")
		},
	)
}

func (f *Flusher) shardFor(userID string) *shard {
	return f.shards[keylock.Slot(userID, len(f.shards))]
}

// take moves the pending cart for userID into flight. Caller holds s.mu.
func (s *shard) take(userID string) (*write, bool) {
	cart, ok := s.pending[userID]
	if !ok {
		return nil, false
	}
	delete(s.pending, userID)
	w := &write{cart: cart, done: make(chan struct{})}
	s.inflight[userID] = w
	return w, true
}

// finish ends a write. A failed cart goes back to pending unless something
// newer was enqueued meanwhile.
func (s *shard) finish(userID string, w *write, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, userID)
	close(w.done)
	if err == nil {
		return
	}
	if cur, ok := s.pending[userID]; !ok || cur.Version < w.cart.Version {
		s.pending[userID] = w.cart
	}
}
