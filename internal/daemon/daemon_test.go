package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribed/internal/api"
	"scribed/internal/config"
	"scribed/internal/daemon"
	"scribed/internal/discovery"
	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/services/whisperx"
	"scribed/internal/services/ytdlp"
	"scribed/internal/testsupport"
	"scribed/internal/workflow"
)

type stubFetcher struct {
	meta ytdlp.Metadata
}

func (f *stubFetcher) Probe(ctx context.Context, url string) (ytdlp.Metadata, error) {
	return f.meta, nil
}

func (f *stubFetcher) Fetch(ctx context.Context, url, destDir, baseName string) (ytdlp.FetchResult, error) {
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

type stubTranscriber struct{}

func (s *stubTranscriber) Transcribe(ctx context.Context, source, workDir string) (whisperx.Result, error) {
	return whisperx.Result{
		Text:       "hello world",
		Segments:   []whisperx.Segment{{Text: "hello world", Start: 0, End: 1}},
		Language:   "en",
		Confidence: 0.9,
		WordCount:  2,
		Model:      "large-v3",
	}, nil
}

func (s *stubTranscriber) Model() string { return "large-v3" }

func newTestDaemon(t *testing.T, mutate func(cfg *config.Config)) (*daemon.Daemon, *api.Client, *queue.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	reclaimer := reclaim.New(cfg, store, logger)
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-api", Title: "API Video", DurationSeconds: 42}}
	wf := workflow.NewManagerWithClients(cfg, store, reclaimer, fetcher, &stubTranscriber{}, logger)
	monitor := discovery.NewMonitor(cfg, store, logger)

	d, err := daemon.New(cfg, store, wf, monitor, reclaimer, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	client := api.NewClientForBind(d.APIAddr(), cfg.Paths.APIToken)
	return d, client, store
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		task, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task != nil && task.Status == want {
			return task
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %d never reached %s, currently %#v", id, want, task)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	reclaimer := reclaim.New(cfg, store, logger)
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-lock"}}
	wf := workflow.NewManagerWithClients(cfg, store, reclaimer, fetcher, &stubTranscriber{}, logger)
	monitor := discovery.NewMonitor(cfg, store, logger)

	first, err := daemon.New(cfg, store, wf, monitor, reclaimer, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	wf2 := workflow.NewManagerWithClients(cfg, store, reclaimer, fetcher, &stubTranscriber{}, logger)
	second, err := daemon.New(cfg, store, wf2, monitor, reclaimer, logger)
	if err != nil {
		t.Fatalf("daemon.New second: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance start to fail")
	}
}

func TestDaemonRecoversInterruptedTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Simulate a crash: a task left in-flight from a previous run.
	task := testsupport.AdmitTask(t, store, "vid-crash", "chan-a")
	claimed, err := store.ClaimNextPending(ctx)
	if err != nil || claimed == nil || claimed.ID != task.ID {
		t.Fatalf("ClaimNextPending: %#v %v", claimed, err)
	}

	logger := logging.NewNop()
	reclaimer := reclaim.New(cfg, store, logger)
	fetcher := &stubFetcher{meta: ytdlp.Metadata{VideoID: "vid-crash", DurationSeconds: 10}}
	wf := workflow.NewManagerWithClients(cfg, store, reclaimer, fetcher, &stubTranscriber{}, logger)
	monitor := discovery.NewMonitor(cfg, store, logger)

	d, err := daemon.New(cfg, store, wf, monitor, reclaimer, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	// The reset returns it to pending and a worker finishes it.
	waitForStatus(t, store, task.ID, queue.StatusCompleted)
}

func TestAPIStatusAndAuth(t *testing.T) {
	_, client, _ := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "secret-token"
	})

	ctx := context.Background()
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PID == 0 {
		t.Fatalf("unexpected status: %#v", status)
	}
	if len(status.Workflow.StageHealth) != 2 {
		t.Fatalf("expected 2 stage health entries, got %#v", status.Workflow.StageHealth)
	}

	d, _, _ := newTestDaemon(t, nil)
	unauth := api.NewClientForBind(d.APIAddr(), "")
	if _, err := unauth.Status(ctx); err != nil {
		t.Fatalf("tokenless daemon should accept tokenless client: %v", err)
	}
}

func TestAPIRejectsBadToken(t *testing.T) {
	d, _, _ := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "secret-token"
	})

	bad := api.NewClientForBind(d.APIAddr(), "wrong")
	if _, err := bad.Status(context.Background()); err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestAPIProcessDeliversTranscript(t *testing.T) {
	_, client, store := newTestDaemon(t, nil)
	ctx := context.Background()

	task, err := client.Process(ctx, "https://www.youtube.com/watch?v=vid-api", false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	waitForStatus(t, store, task.ID, queue.StatusCompleted)

	transcript, err := client.GetTranscript(ctx, "vid-api")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if transcript.FullText != "hello world" || transcript.Language != "en" {
		t.Fatalf("unexpected transcript: %#v", transcript)
	}

	fetched, err := client.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if fetched.Status != string(queue.StatusCompleted) {
		t.Fatalf("expected completed task, got %#v", fetched)
	}
}

func TestAPIChannelLifecycle(t *testing.T) {
	_, client, _ := newTestDaemon(t, nil)
	ctx := context.Background()

	added, err := client.AddChannel(ctx, api.AddChannelRequest{ChannelID: "UCabc", Name: "Example"})
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	if !added.Active || added.ChannelID != "UCabc" {
		t.Fatalf("unexpected channel: %#v", added)
	}

	channels, err := client.ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}

	paused, err := client.SetChannelActive(ctx, "UCabc", false)
	if err != nil {
		t.Fatalf("SetChannelActive: %v", err)
	}
	if paused.Active {
		t.Fatal("expected channel paused")
	}

	if err := client.RemoveChannel(ctx, "UCabc"); err != nil {
		t.Fatalf("RemoveChannel: %v", err)
	}
	channels, err = client.ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels after remove: %v", err)
	}
	if len(channels) != 0 {
		t.Fatalf("expected no channels, got %d", len(channels))
	}
}

func TestAPIQueueRetryAndClear(t *testing.T) {
	_, client, store := newTestDaemon(t, func(cfg *config.Config) {
		// Keep workers away from the hand-crafted fixtures.
		cfg.Workflow.MaxConcurrent = 1
		cfg.Workflow.QueuePollInterval = 3600
	})
	ctx := context.Background()

	failed := testsupport.AdmitTask(t, store, "vid-failed", "chan-a")
	failed.SetFailed("boom", "model_failure")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tasks, err := client.ListQueue(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(tasks) != 1 || tasks[0].FailureCode != "model_failure" {
		t.Fatalf("unexpected failed list: %#v", tasks)
	}

	retried, err := client.RetryTask(ctx, failed.ID)
	if err != nil {
		t.Fatalf("RetryTask: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 retried, got %d", retried)
	}

	// Retrying a pending task is a conflict.
	if _, err := client.RetryTask(ctx, failed.ID); err == nil {
		t.Fatal("expected retry of non-failed task to error")
	}

	removed, err := client.ClearQueue(ctx, "all")
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
