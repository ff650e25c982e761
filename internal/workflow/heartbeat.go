package workflow

import (
	"context"
	"time"

	"log/slog"

	"scribed/internal/config"
	"scribed/internal/logging"
	"scribed/internal/queue"
)

// HeartbeatMonitor keeps in-flight tasks alive and reclaims tasks whose
// worker died without finishing.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor builds a monitor from the workflow timing configuration.
func NewHeartbeatMonitor(cfg *config.Config, store *queue.Store, logger *slog.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
		interval: cfg.HeartbeatInterval(),
		timeout:  cfg.HeartbeatTimeout(),
	}
}

// ReclaimStale returns in-flight tasks with expired heartbeats to pending.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-h.timeout)
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.WarnContext(ctx, "reclaimed stale tasks",
			logging.Int64("count", reclaimed),
			logging.Duration("timeout", h.timeout))
	}
	return reclaimed, nil
}

// StartLoop updates the heartbeat for one task until the context is canceled.
// Run it in a goroutine for the duration of the task's processing.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, taskID int64) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, taskID); err != nil && ctx.Err() == nil {
				h.logger.WarnContext(ctx, "heartbeat update failed",
					logging.Int64(logging.FieldTaskID, taskID),
					logging.Error(err))
			}
		}
	}
}

// StartReclaimLoop periodically reclaims stale in-flight tasks until the
// context is canceled.
func (h *HeartbeatMonitor) StartReclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
				h.logger.WarnContext(ctx, "stale reclaim failed", logging.Error(err))
			}
		}
	}
}
