package workflow

import (
	"context"

	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/stage"
)

// StatusSummary is a point-in-time snapshot of the pipeline for the API and
// CLI status views.
type StatusSummary struct {
	Running     bool
	Workers     int
	LastError   string
	LastTask    *queue.Task
	QueueStats  map[queue.Status]int
	StageHealth []stage.Health
	Storage     reclaim.Usage
}

// Status assembles the current pipeline snapshot.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	summary := StatusSummary{
		Running:  m.Running(),
		Workers:  m.cfg.Workflow.MaxConcurrent,
		LastTask: m.LastTask(),
	}
	if err := m.LastError(); err != nil {
		summary.LastError = err.Error()
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "queue stats unavailable", logging.Error(err))
	} else {
		summary.QueueStats = stats
	}

	usage, err := m.reclaimer.Usage(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "storage usage unavailable", logging.Error(err))
	} else {
		summary.Storage = usage
	}

	summary.StageHealth = []stage.Health{
		m.fetch.HealthCheck(ctx),
		m.transcribe.HealthCheck(ctx),
	}
	return summary
}
