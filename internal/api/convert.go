package api

import (
	"time"

	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromTask converts a queue task into its wire representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	return Task{
		ID:                task.ID,
		VideoID:           task.VideoID,
		ChannelID:         task.ChannelID,
		Title:             task.Title,
		SourceURL:         task.SourceURL,
		DurationSeconds:   task.DurationSeconds,
		UploadDate:        task.UploadDate,
		Status:            string(task.Status),
		Attempts:          task.Attempts,
		ErrorMessage:      task.ErrorMessage,
		FailureCode:       task.FailureCode,
		ArtifactPath:      task.ArtifactPath,
		ArtifactSizeBytes: task.ArtifactSizeBytes,
		DiscoveredAt:      formatTime(task.DiscoveredAt),
		DownloadedAt:      formatTimePtr(task.DownloadedAt),
		TranscribedAt:     formatTimePtr(task.TranscribedAt),
		CreatedAt:         formatTime(task.CreatedAt),
		UpdatedAt:         formatTime(task.UpdatedAt),
	}
}

// FromTasks converts a task slice for list responses.
func FromTasks(tasks []*queue.Task) []Task {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromTranscript converts a stored transcript into its wire representation.
func FromTranscript(t *queue.Transcript) Transcript {
	if t == nil {
		return Transcript{}
	}
	return Transcript{
		VideoID:      t.VideoID,
		FullText:     t.FullText,
		SegmentsJSON: t.SegmentsJSON,
		Language:     t.Language,
		Confidence:   t.Confidence,
		WordCount:    t.WordCount,
		Model:        t.Model,
		CreatedAt:    formatTime(t.CreatedAt),
	}
}

// FromChannel converts a channel subscription into its wire representation.
func FromChannel(c *queue.Channel) Channel {
	if c == nil {
		return Channel{}
	}
	return Channel{
		ID:          c.ID,
		ChannelID:   c.ChannelID,
		Name:        c.Name,
		URL:         c.URL,
		Active:      c.Active,
		LastChecked: formatTimePtr(c.LastChecked),
	}
}

// FromChannels converts a channel slice for list responses.
func FromChannels(channels []*queue.Channel) []Channel {
	if len(channels) == 0 {
		return nil
	}
	out := make([]Channel, 0, len(channels))
	for _, c := range channels {
		out = append(out, FromChannel(c))
	}
	return out
}

// FromUsage converts storage usage numbers for the wire.
func FromUsage(u reclaim.Usage) StorageUsage {
	return StorageUsage{
		Files:        u.Files,
		UsedBytes:    u.UsedBytes,
		MaxBytes:     u.MaxBytes,
		UsedRatio:    u.UsedRatio,
		FreeBytes:    u.FreeBytes,
		TotalFSBytes: u.TotalFSBytes,
	}
}

// FromSweepResult converts a sweep summary for the wire.
func FromSweepResult(r reclaim.SweepResult) CleanupResponse {
	return CleanupResponse{
		Removed:        r.Removed,
		FreedBytes:     r.FreedBytes,
		Skipped:        r.Skipped,
		RemainingBytes: r.RemainingBytes,
	}
}

// FromStatusSummary converts the workflow snapshot for the wire.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:   summary.Running,
		Workers:   summary.Workers,
		LastError: summary.LastError,
		Storage:   FromUsage(summary.Storage),
	}
	if len(summary.QueueStats) > 0 {
		status.QueueStats = make(map[string]int, len(summary.QueueStats))
		for key, value := range summary.QueueStats {
			status.QueueStats[string(key)] = value
		}
	}
	if summary.LastTask != nil {
		converted := FromTask(summary.LastTask)
		status.LastTask = &converted
	}
	for _, health := range summary.StageHealth {
		status.StageHealth = append(status.StageHealth, StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	return status
}
