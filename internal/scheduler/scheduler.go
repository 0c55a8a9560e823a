// Package scheduler periodically drains the pending-charge queue so paid
// usage recorded while the billing provider was unreachable still lands
// exactly once.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/internal/config"
	obsmetrics "github.com/aicollections/billingbot/internal/observability/metrics"
	reconciledomain "github.com/aicollections/billingbot/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	Cfg          config.Config
	Clock        clock.Clock
	ReconcileSvc reconciledomain.Service
}

type Scheduler struct {
	log          *zap.Logger
	cfg          config.SchedulerConfig
	clock        clock.Clock
	reconcileSvc reconciledomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.ReconcileSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Cfg.Scheduler
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = time.Minute
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		clock:        p.Clock,
		reconcileSvc: p.ReconcileSvc,
	}, nil
}

// RunOnce performs a single retry sweep. A deadline hit is a soft failure;
// whatever did not sync stays queued for the next tick.
func (s *Scheduler) RunOnce(parent context.Context) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.SweepTimeout)
	defer cancel()

	report, err := s.reconcileSvc.RetryPending(ctx, sweepBatchSize)
	obsmetrics.Engine().ObserveSweepDuration(time.Since(start))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("sweep timed out",
				zap.Duration("timeout", s.cfg.SweepTimeout),
				zap.Int("synced", report.Synced),
			)
			return nil
		}
		return err
	}

	if report.Attempted > 0 {
		s.log.Info("pending sweep finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("synced", report.Synced),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
