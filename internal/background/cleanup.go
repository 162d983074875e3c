package background

import (
	"context"
	"log/slog"
	"time"
)

// Expired tokens stay around briefly so a late confirmation click can be
// told apart from a token that never existed.
const expiredTokenRetention = 24 * time.Hour

// TokenPruner deletes rows past their retention window.
type TokenPruner interface {
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically removes stale verification tokens from the
// database. Tokens are single-use and short-lived, so rows accumulate fast
// under normal operation.
type CleanupManager struct {
	tokens   TokenPruner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(tokens TokenPruner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		tokens:   tokens,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
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
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.tokens.DeleteExpired(cleanupCtx, expiredTokenRetention)
	if err != nil {
		cm.logger.Error("failed to prune expired verification tokens", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("verification token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
