package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/services"
	"scribed/internal/services/whisperx"
	"scribed/internal/services/ytdlp"
	"scribed/internal/testsupport"
	"scribed/internal/workflow"
)

type stubFetcher struct {
	mu        sync.Mutex
	meta      ytdlp.Metadata
	probeErr  error
	fetchErr  error
	onFetch   func(ctx context.Context)
	calls     int
	active    int32
	maxActive int32
}

func (f *stubFetcher) Probe(ctx context.Context, url string) (ytdlp.Metadata, error) {
	if f.probeErr != nil {
		return ytdlp.Metadata{}, f.probeErr
	}
	return f.meta, nil
}

func (f *stubFetcher) Fetch(ctx context.Context, url, destDir, baseName string) (ytdlp.FetchResult, error) {
	current := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	fetchErr := f.fetchErr
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(ctx)
		if ctx.Err() != nil {
			return ytdlp.FetchResult{}, ctx.Err()
		}
	}
	if fetchErr != nil {
		return ytdlp.FetchResult{}, fetchErr
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ytdlp.FetchResult{}, err
	}
	path := filepath.Join(destDir, baseName+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return ytdlp.FetchResult{}, err
	}
	return ytdlp.FetchResult{Path: path, SizeBytes: 5}, nil
}

func (f *stubFetcher) Binary() string { return "yt-dlp" }

func (f *stubFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubTranscriber struct {
	err    error
	result whisperx.Result
}

func (s *stubTranscriber) Transcribe(ctx context.Context, source, workDir string) (whisperx.Result, error) {
	if s.err != nil {
		return whisperx.Result{}, s.err
	}
	return s.result, nil
}

func (s *stubTranscriber) Model() string { return "large-v3" }

func happyTranscriber() *stubTranscriber {
	return &stubTranscriber{result: whisperx.Result{
		Text: "hello world",
		Segments: []whisperx.Segment{
			{Text: "hello world", Start: 0, End: 1.5},
		},
		Language:   "en",
		Confidence: 0.92,
		WordCount:  2,
		Model:      "large-v3",
	}}
}

func newTestManager(t *testing.T, fetcher workflow.Fetcher, transcriber workflow.Transcriber, opts ...testsupport.ConfigOption) (*workflow.Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Fetcher.Retries = 0
	store := testsupport.MustOpenStore(t, cfg)
	reclaimer := reclaim.New(cfg, store, logging.NewNop())
	manager := workflow.NewManagerWithClients(cfg, store, reclaimer, fetcher, transcriber, logging.NewNop())
	return manager, store
}

func TestRunOnceCompletesPendingTask(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-1", Title: "Probed Title", DurationSeconds: 90}}
	manager, store := newTestManager(t, fetcher, happyTranscriber())

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-1", "chan-a")

	processed, err := manager.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", updated.Status, updated.ErrorMessage)
	}
	if updated.Title != "Probed Title" || updated.DurationSeconds != 90 {
		t.Fatalf("expected probe metadata recorded, got %#v", updated)
	}
	if updated.TranscribedAt == nil || updated.DownloadedAt == nil {
		t.Fatal("expected phase timestamps recorded")
	}
	if updated.ArtifactPath != "" {
		t.Fatalf("expected artifact reclaimed, got %s", updated.ArtifactPath)
	}

	transcript, err := store.GetTranscript(ctx, "vid-1")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if transcript == nil || transcript.FullText != "hello world" {
		t.Fatalf("unexpected transcript: %#v", transcript)
	}
	if transcript.Language != "en" || transcript.WordCount != 2 {
		t.Fatalf("unexpected transcript metadata: %#v", transcript)
	}
}

func TestRunOnceEnforcesDurationCeiling(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-long", DurationSeconds: 4 * 3600}}
	manager, store := newTestManager(t, fetcher, happyTranscriber())

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-long", "chan-a")

	if _, err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", updated.Status)
	}
	if updated.FailureCode != services.ReasonTooLong {
		t.Fatalf("expected %s, got %s", services.ReasonTooLong, updated.FailureCode)
	}
	if fetcher.fetchCalls() != 0 {
		t.Fatalf("expected no download for rejected video, got %d calls", fetcher.fetchCalls())
	}
}

func TestTransientFetchFailureConsumesRetryBudget(t *testing.T) {
	fetcher := &stubFetcher{
		meta:     ytdlp.Metadata{VideoID: "vid-net", DurationSeconds: 60},
		fetchErr: services.Wrap(services.ErrNetwork, "fetch", "download", "connection reset", nil),
	}
	manager, store := newTestManager(t, fetcher, happyTranscriber(), testsupport.WithAutoRetries(1))

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-net", "chan-a")

	processed, err := manager.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// First attempt requeues, second exhausts the budget.
	if processed != 2 {
		t.Fatalf("expected 2 attempts, got %d", processed)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", updated.Status)
	}
	if updated.FailureCode != services.ReasonNetwork {
		t.Fatalf("expected %s, got %s", services.ReasonNetwork, updated.FailureCode)
	}
	if updated.Attempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", updated.Attempts)
	}
}

func TestEmptyTranscriptFailsAndDiscardsArtifact(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-empty", DurationSeconds: 60}}
	transcriber := &stubTranscriber{
		err: services.Wrap(services.ErrEmptyOutput, "transcribe", "run", "no speech detected", nil),
	}
	manager, store := newTestManager(t, fetcher, transcriber)

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-empty", "chan-a")

	if _, err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed || updated.FailureCode != services.ReasonEmptyOutput {
		t.Fatalf("expected empty_output failure, got %s/%s", updated.Status, updated.FailureCode)
	}
	if updated.ArtifactPath != "" {
		t.Fatal("expected failed artifact discarded")
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	fetcher := &stubFetcher{
		meta: ytdlp.Metadata{VideoID: "vid", DurationSeconds: 30},
		onFetch: func(ctx context.Context) {
			time.Sleep(30 * time.Millisecond)
		},
	}
	manager, store := newTestManager(t, fetcher, happyTranscriber(), testsupport.WithMaxConcurrent(2))

	ctx := context.Background()
	videoIDs := []string{"v1", "v2", "v3", "v4", "v5"}
	for _, id := range videoIDs {
		testsupport.AdmitTask(t, store, id, "chan-"+id)
	}

	manager.Start(ctx)
	defer manager.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[queue.StatusCompleted] == len(videoIDs) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for completion, stats %v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if max := atomic.LoadInt32(&fetcher.maxActive); max > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", max)
	}
}

func TestStopDrainsInFlightTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &stubFetcher{
		meta: ytdlp.Metadata{VideoID: "vid-stop", DurationSeconds: 30},
		onFetch: func(ctx context.Context) {
			close(started)
			<-release
		},
	}
	manager, store := newTestManager(t, fetcher, happyTranscriber(), testsupport.WithMaxConcurrent(1))

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-stop", "chan-a")

	manager.Start(ctx)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never claimed the task")
	}

	// Stop mid-fetch: no new claims, but the in-flight pipeline keeps going.
	stopped := make(chan struct{})
	go func() {
		manager.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pipeline was still executing")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never finished draining")
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("expected drained task completed, got %s (%s)", updated.Status, updated.ErrorMessage)
	}
}

func TestProcessSingleForceReprocess(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{
		VideoID:         "vid-single",
		Title:           "One Off",
		ChannelID:       "chan-x",
		DurationSeconds: 45,
		WebpageURL:      "https://www.youtube.com/watch?v=vid-single",
	}}
	manager, store := newTestManager(t, fetcher, happyTranscriber())

	ctx := context.Background()
	task, err := manager.ProcessSingle(ctx, "https://youtu.be/vid-single", false)
	if err != nil {
		t.Fatalf("ProcessSingle: %v", err)
	}
	if task.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", task.Status, task.ErrorMessage)
	}
	if task.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", task.Attempts)
	}

	// Without force a known video is returned untouched.
	again, err := manager.ProcessSingle(ctx, "https://youtu.be/vid-single", false)
	if err != nil {
		t.Fatalf("ProcessSingle repeat: %v", err)
	}
	if again.ID != task.ID || again.Attempts != 1 {
		t.Fatalf("expected untouched task, got %#v", again)
	}

	forced, err := manager.ProcessSingle(ctx, "https://youtu.be/vid-single", true)
	if err != nil {
		t.Fatalf("ProcessSingle force: %v", err)
	}
	if forced.Status != queue.StatusCompleted || forced.Attempts != 2 {
		t.Fatalf("expected reprocessed task, got %#v", forced)
	}

	transcript, err := store.GetTranscript(ctx, "vid-single")
	if err != nil || transcript == nil {
		t.Fatalf("expected transcript, got %#v err %v", transcript, err)
	}
}

func TestRunOnceReclaimsStaleTasksFirst(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-stale", DurationSeconds: 30}}
	manager, store := newTestManager(t, fetcher, happyTranscriber())

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-stale", "chan-a")

	// Simulate a dead worker: in-flight status with an ancient heartbeat.
	claimed, err := store.ClaimNextPending(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextPending: %v %v", claimed, err)
	}
	stale := time.Now().Add(-time.Hour)
	claimed.LastHeartbeat = &stale
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	processed, err := manager.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected stale task reclaimed and processed, got %d", processed)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
}

func TestPersistenceFailureRetainsArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Fetcher.Retries = 0
	store := testsupport.MustOpenStore(t, cfg)
	reclaimer := reclaim.New(cfg, store, logging.NewNop())
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-p", DurationSeconds: 60}}
	transcriber := &stubTranscriber{
		err: services.Wrap(services.ErrPersistence, "transcribe", "persist", "Could not persist transcript", nil),
	}
	manager := workflow.NewManagerWithClients(cfg, store, reclaimer, fetcher, transcriber, logging.NewNop())

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-p", "chan-a")

	if _, err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed || updated.FailureCode != services.ReasonPersistence {
		t.Fatalf("expected persistence_failure, got %s/%s", updated.Status, updated.FailureCode)
	}
	// The audio is the only copy of the work; it stays even without
	// retain_failed_artifacts.
	if updated.ArtifactPath == "" {
		t.Fatal("expected artifact path kept on the task")
	}
	if _, statErr := os.Stat(updated.ArtifactPath); statErr != nil {
		t.Fatalf("expected artifact retained on disk: %v", statErr)
	}

	// Even a forced sweep leaves it alone.
	if _, err := reclaimer.Sweep(ctx, true); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, statErr := os.Stat(updated.ArtifactPath); statErr != nil {
		t.Fatalf("expected artifact to survive forced sweep: %v", statErr)
	}
}

func TestMissingLanguageFailsTask(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-nolang", DurationSeconds: 60}}
	transcriber := &stubTranscriber{result: whisperx.Result{Text: "hello world", WordCount: 2}}
	manager, store := newTestManager(t, fetcher, transcriber)

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-nolang", "chan-a")

	if _, err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed || updated.FailureCode != services.ReasonModelFailure {
		t.Fatalf("expected model_failure without a detected language, got %s/%s", updated.Status, updated.FailureCode)
	}
	transcript, err := store.GetTranscript(ctx, "vid-nolang")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if transcript != nil {
		t.Fatalf("expected no transcript persisted, got %#v", transcript)
	}
}

func TestProcessSingleRejectsOverCeiling(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-marathon", DurationSeconds: 4 * 3600}}
	manager, store := newTestManager(t, fetcher, happyTranscriber())

	ctx := context.Background()
	_, err := manager.ProcessSingle(ctx, "https://youtu.be/vid-marathon", false)
	if !errors.Is(err, services.ErrTooLong) {
		t.Fatalf("expected too-long rejection, got %v", err)
	}

	// Rejection happens before admission: no task, nothing to download.
	tasks, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no task created, got %d", len(tasks))
	}
	if fetcher.fetchCalls() != 0 {
		t.Fatalf("expected no download, got %d calls", fetcher.fetchCalls())
	}
}

func TestTranscribeTimeoutFailsAndDiscardsArtifact(t *testing.T) {
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-slow", DurationSeconds: 60}}
	transcriber := &stubTranscriber{
		err: services.Wrap(services.ErrTimeout, "transcribe", "run", "WhisperX failed for vid-slow.mp3", context.DeadlineExceeded),
	}
	manager, store := newTestManager(t, fetcher, transcriber)

	ctx := context.Background()
	task := testsupport.AdmitTask(t, store, "vid-slow", "chan-a")

	if _, err := manager.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed || updated.FailureCode != services.ReasonTimeout {
		t.Fatalf("expected timeout failure, got %s/%s", updated.Status, updated.FailureCode)
	}
	if updated.ArtifactPath != "" {
		t.Fatal("expected timed-out artifact discarded")
	}
}
