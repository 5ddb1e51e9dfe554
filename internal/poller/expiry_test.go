package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockExpirer struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (m *mockExpirer) ExpireSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	if m.err != nil {
		return 0, m.err
	}
	return 1, nil
}

func (m *mockExpirer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestRun_SweepsImmediatelyAndOnTick(t *testing.T) {
	exp := &mockExpirer{}
	p := NewExpirySweeper(exp, 10*time.Millisecond, zerolog.Nop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exp.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	exp.mu.Lock()
	defer exp.mu.Unlock()
	assert.Equal(t, fixed, exp.calls[0])
}

func TestRun_KeepsSweepingAfterError(t *testing.T) {
	exp := &mockExpirer{err: errors.New("db down")}
	p := NewExpirySweeper(exp, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exp.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
