// Package retention physically removes messages both participants have
// deleted, once a grace period has passed.
package retention

import (
	"context"
	"time"

	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Sweeper periodically reaps messages that are soft-deleted on both sides
// and older than the grace period.
type Sweeper struct {
	db       *store.DB
	logger   *zap.Logger
	grace    time.Duration
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSweeper creates a sweeper. A grace of zero or less disables it.
func NewSweeper(db *store.DB, logger *zap.Logger, grace, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{db: db, logger: logger, grace: grace, interval: interval}
}

// Start begins the sweep loop. No-op when the sweeper is disabled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.grace <= 0 {
		s.logger.Info("retention sweeper disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs a single reap pass.
func (s *Sweeper) SweepOnce() {
	cutoff := time.Now().Add(-s.grace).UnixMilli()
	n, err := s.db.ReapDeadMessages(cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("reaped dead messages", zap.Int64("count", n))
	}
}
