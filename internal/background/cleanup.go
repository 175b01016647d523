package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
)

const sweepTimeout = 30 * time.Second

// Sweeper evicts expired guard state
type Sweeper interface {
	Sweep(ctx context.Context) (ipguard.SweepResult, error)
}

// ActiveBlocksGauge receives the number of blocks still in force
type ActiveBlocksGauge interface {
	SetActiveBlocks(n int)
}

// CleanupManager periodically evicts expired blocks and aged-out failure
// windows so memory stays bounded by live state
type CleanupManager struct {
	sweeper  Sweeper
	gauge    ActiveBlocksGauge
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. gauge may be nil.
func NewCleanupManager(sweeper Sweeper, gauge ActiveBlocksGauge, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		gauge:    gauge,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until Stop or ctx
// cancellation. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	res, err := cm.sweeper.Sweep(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to sweep guard state", slog.Any("error", err))
		return
	}

	if cm.gauge != nil {
		cm.gauge.SetActiveBlocks(res.ActiveBlocks)
	}
	if res.ExpiredBlocks > 0 || res.StaleWindows > 0 {
		cm.logger.Info("guard sweep completed",
			slog.Int("expired_blocks", res.ExpiredBlocks),
			slog.Int("stale_windows", res.StaleWindows),
			slog.Int("active_blocks", res.ActiveBlocks))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
