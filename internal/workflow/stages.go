package workflow

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"log/slog"

	"scribed/internal/config"
	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/services"
	"scribed/internal/services/whisperx"
	"scribed/internal/services/ytdlp"
	"scribed/internal/stage"
)

// Pipeline phase names used in logs and error details.
const (
	PhaseFetch      = "fetch"
	PhaseTranscribe = "transcribe"
)

// Fetcher acquires video metadata and audio. Satisfied by *ytdlp.Client.
type Fetcher interface {
	Probe(ctx context.Context, url string) (ytdlp.Metadata, error)
	Fetch(ctx context.Context, url, destDir, baseName string) (ytdlp.FetchResult, error)
	Binary() string
}

// Transcriber converts an audio file into a transcript. Satisfied by
// *whisperx.Service.
type Transcriber interface {
	Transcribe(ctx context.Context, source, workDir string) (whisperx.Result, error)
	Model() string
}

// fetchStage probes video metadata and downloads the audio artifact into the
// staging directory.
type fetchStage struct {
	cfg       *config.Config
	store     *queue.Store
	fetcher   Fetcher
	reclaimer *reclaim.Reclaimer
	logger    *slog.Logger
}

func newFetchStage(cfg *config.Config, store *queue.Store, fetcher Fetcher, reclaimer *reclaim.Reclaimer, logger *slog.Logger) *fetchStage {
	return &fetchStage{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		reclaimer: reclaimer,
		logger:    logging.NewComponentLogger(logger, "fetch"),
	}
}

// Prepare probes the video and enforces the duration ceiling before any media
// is downloaded. Feed entries carry no duration, so this is the first point
// the ceiling can be checked.
func (f *fetchStage) Prepare(ctx context.Context, task *queue.Task) error {
	meta, err := f.fetcher.Probe(ctx, task.SourceURL)
	if err != nil {
		return err
	}

	if ceiling := f.cfg.DurationCeiling(); ceiling > 0 {
		duration := time.Duration(meta.DurationSeconds) * time.Second
		if duration > ceiling {
			return services.Wrap(services.ErrTooLong, PhaseFetch, "probe",
				fmt.Sprintf("Video runs %s, above the %s ceiling", duration, ceiling), nil)
		}
	}

	task.DurationSeconds = meta.DurationSeconds
	if meta.Title != "" {
		task.Title = meta.Title
	}
	if meta.ChannelID != "" && task.ChannelID == "" {
		task.ChannelID = meta.ChannelID
	}
	if meta.UploadDate != "" {
		task.UploadDate = meta.UploadDate
	}
	return f.store.Update(ctx, task)
}

// Execute downloads the audio track, retrying transient network failures
// within the configured budget. On success the artifact is owned by the
// reclaimer so storage sweeps leave it alone.
func (f *fetchStage) Execute(ctx context.Context, task *queue.Task) error {
	policy := services.RetryPolicy{
		Attempts:   f.cfg.Fetcher.Retries + 1,
		Backoff:    f.cfg.ErrorRetryInterval(),
		MaxBackoff: 2 * time.Minute,
	}

	var result ytdlp.FetchResult
	err := services.Retry(ctx, policy, func(ctx context.Context) error {
		var fetchErr error
		result, fetchErr = f.fetcher.Fetch(ctx, task.SourceURL, f.cfg.Paths.StagingDir, task.VideoID)
		if fetchErr != nil && services.Retryable(fetchErr) {
			f.logger.WarnContext(ctx, "fetch attempt failed",
				logging.Int64(logging.FieldTaskID, task.ID),
				logging.Error(fetchErr))
		}
		return fetchErr
	})
	if err != nil {
		return err
	}

	f.reclaimer.Own(result.Path)
	now := time.Now().UTC()
	task.ArtifactPath = result.Path
	task.ArtifactSizeBytes = result.SizeBytes
	task.DownloadedAt = &now
	task.Status = queue.StatusTranscribing
	if err := f.store.Update(ctx, task); err != nil {
		return services.Wrap(services.ErrPersistence, PhaseFetch, "record",
			"Could not record downloaded artifact", err)
	}

	f.logger.InfoContext(ctx, "audio fetched",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldVideoID, task.VideoID),
		logging.Int64("size_bytes", result.SizeBytes))
	return nil
}

func (f *fetchStage) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(f.fetcher.Binary()); err != nil {
		return stage.Unhealthy(PhaseFetch, fmt.Sprintf("%s not found in PATH", f.fetcher.Binary()))
	}
	return stage.Healthy(PhaseFetch)
}

// transcribeStage runs the speech-to-text model on the staged artifact and
// persists the transcript together with the completed status.
type transcribeStage struct {
	cfg         *config.Config
	store       *queue.Store
	transcriber Transcriber
	logger      *slog.Logger
}

func newTranscribeStage(cfg *config.Config, store *queue.Store, transcriber Transcriber, logger *slog.Logger) *transcribeStage {
	return &transcribeStage{
		cfg:         cfg,
		store:       store,
		transcriber: transcriber,
		logger:      logging.NewComponentLogger(logger, "transcribe"),
	}
}

func (t *transcribeStage) Prepare(ctx context.Context, task *queue.Task) error {
	if !task.HasArtifact() {
		return services.Wrap(services.ErrValidation, PhaseTranscribe, "prepare",
			"Task has no staged audio artifact", nil)
	}
	return nil
}

// Execute transcribes the artifact and commits transcript plus completion in
// one transaction.
func (t *transcribeStage) Execute(ctx context.Context, task *queue.Task) error {
	result, err := t.transcriber.Transcribe(ctx, task.ArtifactPath, t.cfg.Paths.StagingDir)
	if err != nil {
		return err
	}

	// A transcript without a detected language never completes the task.
	if result.Language == "" {
		return services.Wrap(services.ErrModelFailure, PhaseTranscribe, "run",
			"Transcriber did not detect a language", nil)
	}

	segments, err := whisperx.MarshalSegments(result.Segments)
	if err != nil {
		return services.Wrap(services.ErrPersistence, PhaseTranscribe, "persist",
			"Could not serialize transcript segments", err)
	}

	transcript := &queue.Transcript{
		VideoID:      task.VideoID,
		FullText:     result.Text,
		SegmentsJSON: segments,
		Language:     result.Language,
		Confidence:   result.Confidence,
		WordCount:    result.WordCount,
		Model:        result.Model,
	}
	if err := t.store.CompleteWithTranscript(ctx, task.ID, transcript); err != nil {
		return services.Wrap(services.ErrPersistence, PhaseTranscribe, "persist",
			"Could not persist transcript", err)
	}

	now := time.Now().UTC()
	task.Status = queue.StatusCompleted
	task.TranscribedAt = &now
	task.ErrorMessage = ""
	task.FailureCode = ""
	task.LastHeartbeat = nil

	t.logger.InfoContext(ctx, "transcript persisted",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldVideoID, task.VideoID),
		logging.String("language", result.Language),
		logging.Int("word_count", result.WordCount),
		logging.Float64("confidence", result.Confidence))
	return nil
}

func (t *transcribeStage) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(whisperx.UVXCommand); err != nil {
		return stage.Unhealthy(PhaseTranscribe, fmt.Sprintf("%s not found in PATH", whisperx.UVXCommand))
	}
	return stage.Healthy(PhaseTranscribe)
}
