package api

// Task describes a queue entry in a transport-friendly format.
type Task struct {
	ID                int64  `json:"id"`
	VideoID           string `json:"videoId"`
	ChannelID         string `json:"channelId,omitempty"`
	Title             string `json:"title,omitempty"`
	SourceURL         string `json:"sourceUrl"`
	DurationSeconds   int64  `json:"durationSeconds,omitempty"`
	UploadDate        string `json:"uploadDate,omitempty"`
	Status            string `json:"status"`
	Attempts          int    `json:"attempts"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	FailureCode       string `json:"failureCode,omitempty"`
	ArtifactPath      string `json:"artifactPath,omitempty"`
	ArtifactSizeBytes int64  `json:"artifactSizeBytes,omitempty"`
	DiscoveredAt      string `json:"discoveredAt,omitempty"`
	DownloadedAt      string `json:"downloadedAt,omitempty"`
	TranscribedAt     string `json:"transcribedAt,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

// Transcript is the durable output of a completed task.
type Transcript struct {
	VideoID      string  `json:"videoId"`
	FullText     string  `json:"fullText"`
	SegmentsJSON string  `json:"segmentsJson,omitempty"`
	Language     string  `json:"language,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	WordCount    int     `json:"wordCount"`
	Model        string  `json:"model,omitempty"`
	CreatedAt    string  `json:"createdAt,omitempty"`
}

// Channel describes a monitored feed subscription.
type Channel struct {
	ID          int64  `json:"id"`
	ChannelID   string `json:"channelId"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
	Active      bool   `json:"active"`
	LastChecked string `json:"lastChecked,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline phases.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// StorageUsage reports staging directory consumption.
type StorageUsage struct {
	Files        int     `json:"files"`
	UsedBytes    int64   `json:"usedBytes"`
	MaxBytes     int64   `json:"maxBytes"`
	UsedRatio    float64 `json:"usedRatio"`
	FreeBytes    uint64  `json:"freeBytes"`
	TotalFSBytes uint64  `json:"totalFsBytes"`
}

// WorkflowStatus summarizes pipeline execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastTask    *Task          `json:"lastTask,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
	Storage     StorageUsage   `json:"storage"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// QueueListResponse wraps a collection of tasks.
type QueueListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// TranscriptResponse wraps a transcript.
type TranscriptResponse struct {
	Transcript Transcript `json:"transcript"`
}

// ChannelListResponse wraps the monitored channel set.
type ChannelListResponse struct {
	Channels []Channel `json:"channels"`
}

// ChannelResponse wraps a single channel.
type ChannelResponse struct {
	Channel Channel `json:"channel"`
}

// AddChannelRequest subscribes a channel for discovery.
type AddChannelRequest struct {
	ChannelID string `json:"channelId"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SetChannelActiveRequest pauses or resumes a channel.
type SetChannelActiveRequest struct {
	Active bool `json:"active"`
}

// ProcessRequest admits a single video by URL.
type ProcessRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force,omitempty"`
}

// RetryResponse reports how many tasks were returned to pending.
type RetryResponse struct {
	Retried int64 `json:"retried"`
}

// CleanupRequest triggers a storage sweep.
type CleanupRequest struct {
	Force bool `json:"force,omitempty"`
}

// CleanupResponse summarizes a storage sweep.
type CleanupResponse struct {
	Removed        int   `json:"removed"`
	FreedBytes     int64 `json:"freedBytes"`
	Skipped        int   `json:"skipped"`
	RemainingBytes int64 `json:"remainingBytes"`
}

// RunOnceResponse reports a single discovery and queue drain pass.
type RunOnceResponse struct {
	Admitted  int `json:"admitted"`
	Processed int `json:"processed"`
}

// ClearResponse reports how many tasks were removed from the queue.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}
