package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const claimRaceRetries = 4

// ClaimNextPending atomically moves the next pending task to downloading and
// returns it. Channels are served round-robin: the oldest pending task from a
// channel other than the previously claimed one wins when available. Returns
// nil when no pending task exists.
func (s *Store) ClaimNextPending(ctx context.Context) (*Task, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	for attempt := 0; attempt < claimRaceRetries; attempt++ {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+taskColumns+` FROM tasks
             WHERE status = ?
             ORDER BY CASE WHEN channel_id = ? THEN 1 ELSE 0 END, created_at, id
             LIMIT 1`,
			StatusPending,
			s.lastChannel,
		)
		task, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select pending task: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE tasks
             SET status = ?, attempts = attempts + 1, error_message = NULL,
                 failure_code = NULL, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusDownloading,
			now,
			now,
			task.ID,
			StatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker claimed it first.
			continue
		}

		s.lastChannel = task.ChannelID
		return s.GetByID(ctx, task.ID)
	}
	return nil, nil
}

// CompleteWithTranscript persists the transcript and marks the task completed
// in a single transaction, so a crash never leaves a completed task without
// its transcript.
func (s *Store) CompleteWithTranscript(ctx context.Context, taskID int64, transcript *Transcript) error {
	if transcript == nil {
		return errors.New("transcript is nil")
	}
	if transcript.VideoID == "" {
		return errors.New("transcript video id is required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnBusy(ensureContext(ctx), func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin completion tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO transcripts (
                video_id, full_text, segments_json, language, confidence,
                word_count, model, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(video_id) DO UPDATE SET
                full_text = excluded.full_text,
                segments_json = excluded.segments_json,
                language = excluded.language,
                confidence = excluded.confidence,
                word_count = excluded.word_count,
                model = excluded.model,
                created_at = excluded.created_at`,
			transcript.VideoID,
			transcript.FullText,
			nullableString(transcript.SegmentsJSON),
			nullableString(transcript.Language),
			transcript.Confidence,
			transcript.WordCount,
			nullableString(transcript.Model),
			now,
		); err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks
             SET status = ?, transcribed_at = ?, error_message = NULL,
                 failure_code = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusCompleted,
			now,
			now,
			taskID,
		)
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("task %d not found", taskID)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit completion: %w", err)
		}
		return nil
	})
}

// ResetStuckProcessing returns in-flight tasks to pending. Called at daemon
// startup so work interrupted by a crash is picked up again.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?)`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusDownloading,
		StatusTranscribing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns in-flight tasks to pending when their
// heartbeat has expired.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusDownloading,
		StatusTranscribing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed tasks back to pending for reprocessing. With no
// ids, all failed tasks are retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE tasks
            SET status = ?, error_message = NULL, failure_code = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed tasks: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE tasks
        SET status = ?, error_message = NULL, failure_code = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected tasks: %w", err)
	}
	return res.RowsAffected()
}
