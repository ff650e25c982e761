package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"scribed/internal/config"
	"scribed/internal/discovery"
	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	workflow  *workflow.Manager
	monitor   *discovery.Monitor
	reclaimer *reclaim.Reclaimer
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon around already-built services.
func New(cfg *config.Config, store *queue.Store, wf *workflow.Manager, monitor *discovery.Monitor, reclaimer *reclaim.Reclaimer, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil || monitor == nil || reclaimer == nil {
		return nil, errors.New("daemon requires config, store, workflow, monitor, and reclaimer")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "scribed.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		workflow:  wf,
		monitor:   monitor,
		reclaimer: reclaimer,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = server
	return d, nil
}

// Start acquires the instance lock, recovers interrupted tasks, and launches
// the background loops plus the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribed instance is already running")
	}

	// Work interrupted by a crash or hard stop goes back to pending before
	// any worker claims.
	reset, err := d.store.ResetStuckProcessing(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck tasks: %w", err)
	}
	if reset > 0 {
		d.logger.InfoContext(ctx, "recovered interrupted tasks", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.cancel = cancel
	d.workflow.Start(runCtx)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.monitor.StartLoop(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.reclaimer.StartLoop(runCtx)
	}()

	d.running.Store(true)
	d.logger.InfoContext(ctx, "scribed daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pid", os.Getpid()))
	return nil
}

// Stop winds down the background loops and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribed daemon stopped")
}

// Close stops the daemon and closes the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon loops are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API address, or empty when the server is off.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// RunOnce performs a single discovery pass followed by a queue drain.
func (d *Daemon) RunOnce(ctx context.Context) (admitted, processed int, err error) {
	admitted, err = d.monitor.CheckAll(ctx)
	if err != nil {
		return admitted, 0, err
	}
	processed, err = d.workflow.RunOnce(ctx)
	return admitted, processed, err
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  filepath.Join(d.cfg.Paths.LogDir, "scribed.db"),
		LockFilePath: d.lockPath,
	}
}
