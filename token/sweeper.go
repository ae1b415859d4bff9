package token

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goAccount/internal/logging"
	"go.uber.org/zap"
)

// DefaultSweepInterval is used when a Sweeper is built without an interval.
const DefaultSweepInterval = time.Hour

// Sweeper runs Store.Sweep periodically.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper returns a Sweeper for store running every interval.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval, logger: logging.OrNop(logger)}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// Start runs the sweeper in a goroutine. The returned func cancels it and
// waits for the goroutine to exit.
func (s *Sweeper) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("token sweep failed", logging.Err(err)...)
		return
	}
	s.logger.Debug("token sweep finished", zap.Int("removed", n))
}
