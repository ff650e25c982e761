package workflow

import (
	"context"
	"sync"

	"log/slog"

	"scribed/internal/config"
	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/services/whisperx"
	"scribed/internal/services/ytdlp"
)

// Manager drives the transcription pipeline. It owns a bounded pool of
// workers that claim pending tasks and run them through fetch and transcribe,
// plus the heartbeat reclaim loop.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	reclaimer *reclaim.Reclaimer
	heartbeat *HeartbeatMonitor
	logger    *slog.Logger

	fetch      *fetchStage
	transcribe *transcribeStage

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastTask *queue.Task
}

// NewManager wires the pipeline together with the default external tool
// clients built from configuration.
func NewManager(cfg *config.Config, store *queue.Store, reclaimer *reclaim.Reclaimer, logger *slog.Logger) *Manager {
	fetcher := ytdlp.NewClient(ytdlp.Config{
		MaxSizeBytes: cfg.MaxArtifactBytes(),
		Timeout:      cfg.FetchTimeout(),
		CookiesFile:  cfg.Fetcher.CookiesFile,
	}, "")
	transcriber := whisperx.NewService(whisperx.Config{
		Model:       cfg.Transcriber.Model,
		Device:      cfg.Transcriber.Device,
		ComputeType: cfg.Transcriber.ComputeType,
		Diarize:     cfg.Transcriber.Diarize,
		HFToken:     cfg.Transcriber.HFToken,
		Timeout:     cfg.TranscribeTimeout(),
	})
	return NewManagerWithClients(cfg, store, reclaimer, fetcher, transcriber, logger)
}

// NewManagerWithClients wires the pipeline with explicit tool clients. Tests
// use it to substitute stub fetchers and transcribers.
func NewManagerWithClients(cfg *config.Config, store *queue.Store, reclaimer *reclaim.Reclaimer, fetcher Fetcher, transcriber Transcriber, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		reclaimer: reclaimer,
		heartbeat: NewHeartbeatMonitor(cfg, store, logger),
		logger:    logging.NewComponentLogger(logger, "workflow"),
	}
	m.fetch = newFetchStage(cfg, store, fetcher, reclaimer, logger)
	m.transcribe = newTranscribeStage(cfg, store, transcriber, logger)
	return m
}

// Start launches the worker pool and the heartbeat reclaim loop. Calling
// Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	claimCtx, cancel := context.WithCancel(ctx)
	// Claiming stops on cancel, but a pipeline already underway drains to a
	// terminal state; the per-phase timeouts bound how long that can take.
	runCtx := context.WithoutCancel(ctx)
	m.running = true
	m.cancel = cancel

	workers := m.cfg.Workflow.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.runWorker(claimCtx, runCtx, i)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.heartbeat.StartReclaimLoop(claimCtx)
	}()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "workflow started", logging.Int("workers", workers))
}

// Stop stops claiming new tasks and waits for in-flight pipelines to reach a
// terminal state.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

// Running reports whether the worker pool is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastTask(task *queue.Task) {
	m.mu.Lock()
	if task == nil {
		m.lastTask = nil
	} else {
		copied := *task
		m.lastTask = &copied
	}
	m.mu.Unlock()
}

// LastError returns the most recent worker loop error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// LastTask returns a copy of the most recently processed task.
func (m *Manager) LastTask() *queue.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastTask == nil {
		return nil
	}
	copied := *m.lastTask
	return &copied
}
