package kiddoalert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// poller runs fn on a fixed interval until stopped. Stop only cancels; it
// never waits, so it is safe to call from inside fn's call chain.
type poller struct {
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(interval time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) *poller {
	return &poller{interval: interval, fn: fn, logger: logger}
}

// start launches the loop under parent. It is a no-op while already running.
func (p *poller) start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.logger.Debug("poller started", slog.Duration("interval", p.interval))
		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("poller stopped")
				return
			case <-ticker.C:
				if err := p.fn(ctx); err != nil && ctx.Err() == nil {
					syncFailuresTotal.WithLabelValues("poll").Inc()
					p.logger.Warn("poll failed",
						slog.String("op", "poll"),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// stop cancels the loop and returns a channel closed once it has exited.
func (p *poller) stop() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	p.cancel()
	done := p.done
	p.cancel = nil
	p.done = nil
	return done
}

func (p *poller) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
