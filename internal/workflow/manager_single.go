package workflow

import (
	"context"
	"fmt"
	"time"

	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/services"
)

// RunOnce drains the pending queue on the calling goroutine. It reclaims
// stale in-flight tasks first, then claims and processes tasks until the
// queue is empty or the context is canceled. Returns the number of tasks
// processed.
func (m *Manager) RunOnce(ctx context.Context) (int, error) {
	if _, err := m.heartbeat.ReclaimStale(ctx); err != nil {
		return 0, fmt.Errorf("workflow: reclaim stale: %w", err)
	}

	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		task, err := m.store.ClaimNextPending(ctx)
		if err != nil {
			return processed, fmt.Errorf("workflow: claim: %w", err)
		}
		if task == nil {
			return processed, nil
		}
		m.processClaimed(ctx, task)
		processed++
	}
}

// ProcessSingle admits one video by URL and, when the worker pool is not
// running, processes it on the spot. With force set, a terminal task is
// returned to pending for another run; without it, an already-known video is
// returned untouched.
func (m *Manager) ProcessSingle(ctx context.Context, url string, force bool) (*queue.Task, error) {
	meta, err := m.fetch.fetcher.Probe(ctx, url)
	if err != nil {
		return nil, err
	}

	// Over-ceiling videos are rejected here, before any task exists, so they
	// never reach downloading.
	if ceiling := m.cfg.DurationCeiling(); ceiling > 0 {
		duration := time.Duration(meta.DurationSeconds) * time.Second
		if duration > ceiling {
			return nil, services.Wrap(services.ErrTooLong, PhaseFetch, "probe",
				fmt.Sprintf("Video runs %s, above the %s ceiling", duration, ceiling), nil)
		}
	}

	cand := queue.Candidate{
		VideoID:         meta.VideoID,
		ChannelID:       meta.ChannelID,
		Title:           meta.Title,
		SourceURL:       sourceURL(meta.WebpageURL, url),
		UploadDate:      meta.UploadDate,
		DurationSeconds: meta.DurationSeconds,
		DiscoveredAt:    time.Now().UTC(),
	}
	task, admitted, err := m.store.AdmitTask(ctx, cand)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, PhaseFetch, "admit",
			"Could not admit video", err)
	}

	if !admitted {
		if !force || !task.Status.IsTerminal() {
			return task, nil
		}
		task.Status = queue.StatusPending
		task.ErrorMessage = ""
		task.FailureCode = ""
		task.LastHeartbeat = nil
		if err := m.store.Update(ctx, task); err != nil {
			return nil, services.Wrap(services.ErrPersistence, PhaseFetch, "admit",
				"Could not requeue video", err)
		}
		m.logger.InfoContext(ctx, "forcing reprocess",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldVideoID, task.VideoID))
	}

	// A running pool will pick the task up on its own; otherwise drain the
	// queue here so the caller gets a finished task back.
	if m.Running() {
		return task, nil
	}
	if _, err := m.RunOnce(ctx); err != nil {
		return nil, err
	}
	return m.store.GetByID(ctx, task.ID)
}

func sourceURL(canonical, requested string) string {
	if canonical != "" {
		return canonical
	}
	return requested
}
