package federation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultSweepInterval is how often the Sweeper expires lapsed invitations.
const DefaultSweepInterval = time.Hour

// SweepExpiredInvitations marks every pending invitation whose expiry has
// passed as expired and returns how many changed. Running it again, or
// concurrently with Accept, is safe: each row moves only while still pending.
func (s *Service) SweepExpiredInvitations(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.memberships.ExpirePending(ctx, now)
	if err != nil {
		return 0, s.fail("sweep expired invitations", fmt.Errorf("failed to expire invitations: %w", err))
	}
	if n > 0 {
		s.logger.Info("expired invitations swept", "count", n, "now", now)
	}
	return n, nil
}

// Sweeper runs SweepExpiredInvitations periodically.
type Sweeper struct {
	service  *Service
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSweeper creates a sweeper using the service's clock and logger.
func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		clock:    service.clock,
		logger:   service.logger,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	w.logger.Info("invitation sweeper started", "interval", w.interval)

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	// Failures are logged by the service; the next tick retries.
	_, _ = w.service.SweepExpiredInvitations(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("invitation sweeper stopped")
			return nil
		case <-ticker.C:
			_, _ = w.service.SweepExpiredInvitations(ctx)
		}
	}
}
