package workflow

import (
	"context"
	"errors"

	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/services"
)

// maxErrorMessageLen caps the persisted error message so a multi-screen tool
// dump does not bloat the queue database.
const maxErrorMessageLen = 1000

// handleFailure records a task failure, requeueing when the error is
// transient and the auto-retry budget allows another attempt.
func (m *Manager) handleFailure(ctx context.Context, task *queue.Task, taskErr error) {
	// Shutdown is not a failure. Return the task to pending so the next
	// daemon run picks it up.
	if errors.Is(taskErr, context.Canceled) && ctx.Err() != nil {
		m.requeue(context.WithoutCancel(ctx), task, queue.DaemonStopReason)
		return
	}

	code := services.ReasonCode(taskErr)
	message := truncateMessage(taskErr.Error())

	if services.Retryable(taskErr) && task.Attempts <= m.cfg.Workflow.MaxAutoRetries {
		m.logger.WarnContext(ctx, "task requeued after transient failure",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldVideoID, task.VideoID),
			logging.String(logging.FieldReason, code),
			logging.Int("attempt", task.Attempts),
			logging.Error(taskErr))
		m.requeue(ctx, task, message)
		return
	}

	m.setLastError(taskErr)
	task.SetFailed(message, code)
	if err := m.store.Update(ctx, task); err != nil {
		m.logger.ErrorContext(ctx, "failure record update failed",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}

	m.logger.ErrorContext(ctx, "task failed",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldVideoID, task.VideoID),
		logging.String(logging.FieldReason, code),
		logging.Int("attempt", task.Attempts),
		logging.Error(taskErr))

	// Persisting results outranks reclaiming space: when the store itself
	// failed, the staged audio is the only copy of the work, so it is kept
	// even without retain_failed_artifacts.
	if errors.Is(taskErr, services.ErrPersistence) && task.HasArtifact() {
		m.reclaimer.Release(task.ArtifactPath)
		m.logger.ErrorContext(ctx, "artifact retained after persistence failure; operator attention required",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldVideoID, task.VideoID),
			logging.String("artifact", task.ArtifactPath))
		return
	}

	m.disposeFailedArtifact(ctx, task)
}

// requeue returns an in-flight task to pending with the last error noted.
func (m *Manager) requeue(ctx context.Context, task *queue.Task, message string) {
	if task.HasArtifact() {
		m.reclaimer.Release(task.ArtifactPath)
	}
	task.Status = queue.StatusPending
	task.ErrorMessage = message
	task.LastHeartbeat = nil
	if err := m.store.Update(ctx, task); err != nil {
		m.logger.ErrorContext(ctx, "requeue update failed",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}

// disposeFailedArtifact drops a failed task's staged audio unless retention
// is configured for debugging.
func (m *Manager) disposeFailedArtifact(ctx context.Context, task *queue.Task) {
	if !task.HasArtifact() {
		return
	}
	if m.cfg.Storage.RetainFailedArtifacts {
		m.reclaimer.Release(task.ArtifactPath)
		m.logger.InfoContext(ctx, "retaining failed artifact",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String("artifact", task.ArtifactPath))
		return
	}
	m.reclaimer.Delete(ctx, task)
}

func truncateMessage(message string) string {
	if len(message) <= maxErrorMessageLen {
		return message
	}
	return message[:maxErrorMessageLen]
}
