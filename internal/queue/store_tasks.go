package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Candidate describes a discovered video proposed for transcription.
type Candidate struct {
	VideoID         string
	ChannelID       string
	Title           string
	SourceURL       string
	UploadDate      string
	DurationSeconds int64
	DiscoveredAt    time.Time
}

// AdmitTask inserts a pending task for a discovered video. Videos already
// known to the queue are not re-admitted; the existing task is returned with
// admitted=false regardless of its status.
func (s *Store) AdmitTask(ctx context.Context, cand Candidate) (*Task, bool, error) {
	if cand.VideoID == "" {
		return nil, false, errors.New("video id is required")
	}
	if cand.SourceURL == "" {
		return nil, false, errors.New("source url is required")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	discovered := cand.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (
            video_id, channel_id, title, source_url, duration_seconds,
            upload_date, status, discovered_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(video_id) DO NOTHING`,
		cand.VideoID,
		nullableString(cand.ChannelID),
		nullableString(cand.Title),
		cand.SourceURL,
		cand.DurationSeconds,
		nullableString(cand.UploadDate),
		StatusPending,
		discovered.UTC().Format(time.RFC3339Nano),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("admit task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	task, err := s.GetByVideoID(ctx, cand.VideoID)
	if err != nil {
		return nil, false, err
	}
	if task == nil {
		return nil, false, fmt.Errorf("admitted task %q not found", cand.VideoID)
	}
	return task, affected > 0, nil
}

// GetByID fetches a task by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetByVideoID fetches a task by its video identifier.
func (s *Store) GetByVideoID(ctx context.Context, videoID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE video_id = ?`, videoID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by video id: %w", err)
	}
	return task, nil
}

// Update persists changes to an existing task.
func (s *Store) Update(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	task.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE tasks
         SET video_id = ?, channel_id = ?, title = ?, source_url = ?,
             duration_seconds = ?, upload_date = ?, status = ?, attempts = ?,
             error_message = ?, failure_code = ?, artifact_path = ?,
             artifact_size_bytes = ?, downloaded_at = ?, transcribed_at = ?,
             updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		task.VideoID,
		nullableString(task.ChannelID),
		nullableString(task.Title),
		task.SourceURL,
		task.DurationSeconds,
		nullableString(task.UploadDate),
		task.Status,
		task.Attempts,
		nullableString(task.ErrorMessage),
		nullableString(task.FailureCode),
		nullableString(task.ArtifactPath),
		task.ArtifactSizeBytes,
		nullableTime(task.DownloadedAt),
		nullableTime(task.TranscribedAt),
		task.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(task.LastHeartbeat),
		task.ID,
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// TasksByStatus returns tasks matching a status ordered by creation time.
func (s *Store) TasksByStatus(ctx context.Context, status Status) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// List returns tasks filtered by status set (or all tasks when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// TasksWithArtifacts returns tasks that still own a staged audio file,
// oldest download first.
func (s *Store) TasksWithArtifacts(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE artifact_path IS NOT NULL ORDER BY downloaded_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifact tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ArtifactUsage sums the recorded size of staged audio files.
func (s *Store) ArtifactUsage(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(artifact_size_bytes), 0) FROM tasks WHERE artifact_path IS NOT NULL`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("artifact usage: %w", err)
	}
	return total, nil
}

// Remove deletes a task by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed tasks. Transcripts are untouched.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed tasks.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all tasks. Transcripts are untouched.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tasks`)
	if err != nil {
		return 0, fmt.Errorf("clear tasks: %w", err)
	}
	return res.RowsAffected()
}
