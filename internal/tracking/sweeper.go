package tracking

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically closes sessions whose vehicles stopped reporting.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSweeper(manager *Manager, interval, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{manager: manager, interval: interval, timeout: timeout, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("session sweeper started",
		zap.Duration("interval", s.interval), zap.Duration("timeout", s.timeout))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) (swept []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session sweep panicked", zap.Any("panic", r))
		}
	}()

	swept = s.manager.SweepInactive(ctx, s.timeout)
	if len(swept) > 0 {
		s.logger.Info("swept inactive sessions", zap.Int("count", len(swept)))
	}
	return swept
}
