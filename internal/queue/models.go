package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a transcription task.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// DaemonStopReason is the error message recorded when tasks are interrupted by
// daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusTranscribing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading:  {},
	StatusTranscribing: {},
}

// Task represents one video moving through the pipeline, persisted in SQLite.
type Task struct {
	ID                int64
	VideoID           string
	ChannelID         string
	Title             string
	SourceURL         string
	DurationSeconds   int64
	UploadDate        string
	Status            Status
	Attempts          int
	ErrorMessage      string
	FailureCode       string
	ArtifactPath      string
	ArtifactSizeBytes int64
	DiscoveredAt      time.Time
	DownloadedAt      *time.Time
	TranscribedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastHeartbeat     *time.Time
}

// Transcript is the durable output of a completed task.
type Transcript struct {
	ID           int64
	VideoID      string
	FullText     string
	SegmentsJSON string
	Language     string
	Confidence   float64
	WordCount    int
	Model        string
	CreatedAt    time.Time
}

// Channel is a monitored feed subscription.
type Channel struct {
	ID          int64
	ChannelID   string
	Name        string
	URL         string
	Active      bool
	LastChecked *time.Time
	CreatedAt   time.Time
}

// DatabaseHealth captures diagnostic information about the task database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalTasks       int
	Error            string
}

// HealthSummary describes aggregated task counts per key lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (t Task) IsProcessing() bool {
	_, ok := processingStatuses[t.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status will never change without operator input.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SetFailed marks the task as failed with the given message and reason code.
// Clears the heartbeat so reclaim sweeps ignore the task.
func (t *Task) SetFailed(message, code string) {
	t.Status = StatusFailed
	t.ErrorMessage = message
	t.FailureCode = code
	t.LastHeartbeat = nil
}

// HasArtifact reports whether the task still owns a staged audio file.
func (t Task) HasArtifact() bool {
	return t.ArtifactPath != ""
}
