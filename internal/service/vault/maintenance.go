package vault

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"filevault/internal/config"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/metrics"
	"filevault/internal/ratelimiter"
)

// SystemActor stamps changes made by background maintenance
const SystemActor = "system"

// Sweeper runs periodic housekeeping: it reports overdue checkouts,
// deactivates expired shares and drops idle rate-limit buckets
type Sweeper struct {
	checkout vaultSvc.CheckoutService
	shares   vaultSvc.ShareService
	limiter  *ratelimiter.Keyed
	interval time.Duration
	metrics  metrics.Recorder
	clock    Clock
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval. A non-positive
// interval falls back to config.DefaultSweepInterval.
func NewSweeper(
	checkout vaultSvc.CheckoutService,
	shares vaultSvc.ShareService,
	limiter *ratelimiter.Keyed,
	interval time.Duration,
	recorder metrics.Recorder,
	clock Clock,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	return &Sweeper{
		checkout: checkout,
		shares:   shares,
		limiter:  limiter,
		interval: interval,
		metrics:  recorder,
		clock:    clock,
		logger:   logger,
	}
}

// RunOnce performs a single sweep. Each task runs even if another fails.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs []error

	overdue, err := s.checkout.ListOverdue(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		for _, f := range overdue {
			s.logger.Warn("checkout overdue",
				"file_id", f.ID,
				"name", f.Name,
				"holder", f.CheckedOutBy,
				"expected_checkin_at", f.ExpectedCheckinAt,
			)
		}
		s.metrics.SweepRun("overdue_checkouts", len(overdue))
	}

	expired, err := s.shares.ExpireStale(ctx, SystemActor)
	if err != nil {
		errs = append(errs, err)
	}
	s.metrics.SweepRun("expired_shares", expired)

	pruned := s.limiter.Prune(s.clock.Now().Add(-s.interval))
	s.metrics.SweepRun("rate_limit_buckets", pruned)

	return errors.Join(errs...)
}

// Run sweeps until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("maintenance sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance sweeper stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("maintenance sweep failed", "error", err)
			}
		}
	}
}
