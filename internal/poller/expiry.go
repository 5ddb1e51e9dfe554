// Package poller runs the periodic expiry sweep over pending checkout sessions.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Expirer interface {
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
}

type ExpirySweeper struct {
	expirer  Expirer
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewExpirySweeper(expirer Expirer, interval time.Duration, log zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		expirer:  expirer,
		interval: interval,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (p *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *ExpirySweeper) sweep(ctx context.Context) {
	n, err := p.expirer.ExpireSessions(ctx, p.now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Error().Err(err).Int("expired", n).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		p.log.Info().Int("expired", n).Msg("expired checkout sessions")
	}
}
