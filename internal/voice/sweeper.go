package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/linqmd/voice-onboarding/internal/store"
)

// Sweeper periodically expires sessions that idled past the timeout.
// Expiry is also applied lazily on access; the sweeper bounds how long a
// stale row can linger without anyone touching it.
type Sweeper struct {
	repo     store.Repository
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

func NewSweeper(repo store.Repository, timeout, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:     repo,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("session sweeper started",
			"interval", w.interval, "timeout", w.timeout)

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("session sweeper stopped")
				return
			case <-ticker.C:
				w.sweep(ctx)
			}
		}
	}()
}

// Wait blocks until the sweep loop has exited.
func (w *Sweeper) Wait() {
	<-w.done
}

func (w *Sweeper) sweep(ctx context.Context) {
	n, err := w.repo.ExpireIdleSessions(ctx, w.timeout)
	if err != nil {
		w.logger.Error("session sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("expired idle sessions", "count", n)
	}
}
