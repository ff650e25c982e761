package workflow

import (
	"context"
	"sync"
	"time"

	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/services"
)

// runWorker claims against claimCtx so Stop halts intake, while each claimed
// task executes on runCtx and finishes even across a Stop.
func (m *Manager) runWorker(claimCtx, runCtx context.Context, id int) {
	defer m.wg.Done()

	for {
		if claimCtx.Err() != nil {
			return
		}

		task, err := m.store.ClaimNextPending(claimCtx)
		if err != nil {
			if claimCtx.Err() != nil {
				return
			}
			m.setLastError(err)
			m.logger.ErrorContext(claimCtx, "claim failed",
				logging.Int("worker", id),
				logging.Error(err))
			if !m.wait(claimCtx, m.cfg.ErrorRetryInterval()) {
				return
			}
			continue
		}
		if task == nil {
			if !m.wait(claimCtx, m.cfg.QueuePollInterval()) {
				return
			}
			continue
		}

		m.processClaimed(runCtx, task)
	}
}

// processClaimed runs one claimed task through the pipeline. The task arrives
// in downloading status with its heartbeat set.
func (m *Manager) processClaimed(ctx context.Context, task *queue.Task) {
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithVideoID(ctx, task.VideoID)
	m.setLastTask(task)

	m.logger.InfoContext(ctx, "task started",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldVideoID, task.VideoID),
		logging.String(logging.FieldChannel, task.ChannelID),
		logging.Int("attempt", task.Attempts))

	err := m.executeWithHeartbeat(ctx, task, func(ctx context.Context) error {
		fetchCtx := services.WithPhase(ctx, PhaseFetch)
		if err := m.fetch.Prepare(fetchCtx, task); err != nil {
			return err
		}
		if err := m.fetch.Execute(fetchCtx, task); err != nil {
			return err
		}

		transcribeCtx := services.WithPhase(ctx, PhaseTranscribe)
		if err := m.transcribe.Prepare(transcribeCtx, task); err != nil {
			return err
		}
		return m.transcribe.Execute(transcribeCtx, task)
	})
	if err != nil {
		m.handleFailure(ctx, task, err)
		m.setLastTask(task)
		return
	}

	// Completed tasks no longer need their staged audio.
	m.reclaimer.Delete(ctx, task)
	m.setLastError(nil)
	m.setLastTask(task)

	m.logger.InfoContext(ctx, "task completed",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldVideoID, task.VideoID))

	m.sweepIfNeeded(ctx)
}

// executeWithHeartbeat keeps the task's heartbeat fresh while fn runs, so the
// reclaim loop does not hand the task to another worker mid-flight.
func (m *Manager) executeWithHeartbeat(ctx context.Context, task *queue.Task, fn func(context.Context) error) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		m.heartbeat.StartLoop(hbCtx, task.ID)
	}()

	err := fn(ctx)

	hbCancel()
	hbWG.Wait()
	return err
}

func (m *Manager) sweepIfNeeded(ctx context.Context) {
	needed, err := m.reclaimer.NeedsSweep(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "sweep check failed", logging.Error(err))
		return
	}
	if !needed {
		return
	}
	if _, err := m.reclaimer.Sweep(ctx, false); err != nil {
		m.logger.WarnContext(ctx, "storage sweep failed", logging.Error(err))
	}
}

// wait sleeps for the given duration, returning false when the context was
// canceled first.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
