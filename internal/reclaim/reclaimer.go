package reclaim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sys/unix"

	"scribed/internal/config"
	"scribed/internal/logging"
	"scribed/internal/queue"
	"scribed/internal/services"
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Reclaimer manages staged audio artifacts against the storage budget.
type Reclaimer struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	statfs statfsFunc

	mu    sync.Mutex
	owned map[string]struct{}
}

// Usage describes current staging directory consumption.
type Usage struct {
	Files        int     `json:"files"`
	UsedBytes    int64   `json:"used_bytes"`
	MaxBytes     int64   `json:"max_bytes"`
	UsedRatio    float64 `json:"used_ratio"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalFSBytes uint64  `json:"total_fs_bytes"`
}

// SweepResult summarizes one reclamation pass.
type SweepResult struct {
	Removed        int   `json:"removed"`
	FreedBytes     int64 `json:"freed_bytes"`
	Skipped        int   `json:"skipped"`
	RemainingBytes int64 `json:"remaining_bytes"`
}

// New builds a Reclaimer for the staging directory.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Reclaimer {
	r := &Reclaimer{
		cfg:    cfg,
		store:  store,
		statfs: realStatfs,
		owned:  make(map[string]struct{}),
	}
	r.SetLogger(logger)
	return r
}

// SetLogger refreshes the reclaimer's logging destination.
func (r *Reclaimer) SetLogger(logger *slog.Logger) {
	if r == nil {
		return
	}
	r.logger = logging.NewComponentLogger(logger, "reclaim")
}

// Own marks an artifact as in use by an active task so sweeps skip it.
func (r *Reclaimer) Own(path string) {
	if r == nil || strings.TrimSpace(path) == "" {
		return
	}
	r.mu.Lock()
	r.owned[filepath.Clean(path)] = struct{}{}
	r.mu.Unlock()
}

// Release removes an artifact from the in-use set.
func (r *Reclaimer) Release(path string) {
	if r == nil || strings.TrimSpace(path) == "" {
		return
	}
	r.mu.Lock()
	delete(r.owned, filepath.Clean(path))
	r.mu.Unlock()
}

// Owned reports whether an artifact belongs to an active task.
func (r *Reclaimer) Owned(path string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owned[filepath.Clean(path)]
	return ok
}

// Delete removes a task's artifact right after completion and clears its
// bookkeeping. Deletion failures are logged, not returned: a lingering file
// is the sweep's problem, not the pipeline's.
func (r *Reclaimer) Delete(ctx context.Context, task *queue.Task) {
	if r == nil || task == nil || task.ArtifactPath == "" {
		return
	}
	path := task.ArtifactPath
	r.Release(path)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.WarnContext(ctx, "artifact delete failed; sweep will retry",
			logging.String("artifact", path),
			logging.Error(err))
		return
	}

	task.ArtifactPath = ""
	task.ArtifactSizeBytes = 0
	if err := r.store.Update(ctx, task); err != nil {
		r.logger.WarnContext(ctx, "artifact bookkeeping update failed",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.Error(err))
		return
	}
	r.logger.InfoContext(ctx, "reclaimed artifact",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String("artifact", path))
}

// Usage scans the staging directory and reports consumption against the
// configured budget. Retained failed artifacts are kept for debugging and do
// not count toward the budget.
func (r *Reclaimer) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	if r == nil {
		return u, nil
	}
	files, total, err := r.scan()
	if err != nil {
		return u, err
	}
	retained, err := r.retainedFailedPaths(ctx)
	if err != nil {
		return u, err
	}
	for _, file := range files {
		if _, ok := retained[file.path]; ok {
			total -= file.size
		}
	}
	u.Files = len(files)
	u.UsedBytes = total
	u.MaxBytes = r.cfg.MaxTempStorageBytes()
	if u.MaxBytes > 0 {
		u.UsedRatio = float64(total) / float64(u.MaxBytes)
	}
	if totalFS, freeFS, statErr := r.statfs(r.cfg.Paths.StagingDir); statErr == nil {
		u.TotalFSBytes = totalFS
		u.FreeBytes = freeFS
	}
	return u, nil
}

// NeedsSweep reports whether staging usage has crossed the cleanup threshold.
func (r *Reclaimer) NeedsSweep(ctx context.Context) (bool, error) {
	u, err := r.Usage(ctx)
	if err != nil {
		return false, err
	}
	threshold := r.cfg.Storage.CleanupThreshold
	return u.MaxBytes > 0 && u.UsedBytes >= int64(float64(u.MaxBytes)*threshold), nil
}

// Sweep removes staged artifacts oldest-first until usage drops below the
// cleanup threshold. When force is set, every unprotected artifact goes.
// Artifacts owned by in-flight tasks are always skipped, as are failed tasks'
// artifacts when retention is configured.
func (r *Reclaimer) Sweep(ctx context.Context, force bool) (SweepResult, error) {
	var result SweepResult
	if r == nil {
		return result, nil
	}

	files, total, err := r.scan()
	if err != nil {
		return result, err
	}

	protected, retained, taskByPath, err := r.protectedPaths(ctx)
	if err != nil {
		return result, err
	}

	// Retained failed artifacts sit outside the budget; the sweep target is
	// measured against everything else.
	for _, file := range files {
		if _, ok := retained[file.path]; ok {
			total -= file.size
		}
	}

	maxBytes := r.cfg.MaxTempStorageBytes()
	target := int64(float64(maxBytes) * r.cfg.Storage.CleanupThreshold)
	if !force && (maxBytes <= 0 || total < target) {
		result.RemainingBytes = total
		return result, nil
	}

	for _, file := range files {
		if !force && total < target {
			break
		}
		if r.Owned(file.path) {
			result.Skipped++
			continue
		}
		if _, ok := protected[file.path]; ok {
			result.Skipped++
			continue
		}
		if err := os.Remove(file.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.WarnContext(ctx, "sweep could not remove artifact",
				logging.String("artifact", file.path),
				logging.Error(err))
			result.Skipped++
			continue
		}
		total -= file.size
		result.Removed++
		result.FreedBytes += file.size

		if task, ok := taskByPath[file.path]; ok {
			task.ArtifactPath = ""
			task.ArtifactSizeBytes = 0
			if err := r.store.Update(ctx, task); err != nil {
				r.logger.WarnContext(ctx, "sweep bookkeeping update failed",
					logging.Int64(logging.FieldTaskID, task.ID),
					logging.Error(err))
			}
		}
		r.logger.InfoContext(ctx, "swept artifact",
			logging.String("artifact", file.path),
			logging.Int64("size_bytes", file.size),
			logging.Bool("forced", force))
	}

	result.RemainingBytes = total
	return result, nil
}

// StartLoop runs periodic sweeps until the context is canceled.
func (r *Reclaimer) StartLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			needed, err := r.NeedsSweep(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "sweep check failed", logging.Error(err))
				continue
			}
			if !needed {
				continue
			}
			if _, err := r.Sweep(ctx, false); err != nil {
				r.logger.WarnContext(ctx, "periodic sweep failed", logging.Error(err))
			}
		}
	}
}

func (r *Reclaimer) protectedPaths(ctx context.Context) (map[string]struct{}, map[string]struct{}, map[string]*queue.Task, error) {
	protected := make(map[string]struct{})
	retained := make(map[string]struct{})
	byPath := make(map[string]*queue.Task)
	tasks, err := r.store.TasksWithArtifacts(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reclaim: list artifact tasks: %w", err)
	}
	for _, task := range tasks {
		path := filepath.Clean(task.ArtifactPath)
		byPath[path] = task
		if task.IsProcessing() {
			protected[path] = struct{}{}
		}
		if r.isRetained(task) {
			protected[path] = struct{}{}
			retained[path] = struct{}{}
		}
	}
	return protected, retained, byPath, nil
}

// isRetained reports whether a failed task's artifact is held back: either
// retention is configured for debugging, or the transcript could not be
// persisted and the audio is the only copy of the work.
func (r *Reclaimer) isRetained(task *queue.Task) bool {
	if task.Status != queue.StatusFailed || task.ArtifactPath == "" {
		return false
	}
	return r.cfg.Storage.RetainFailedArtifacts || task.FailureCode == services.ReasonPersistence
}

// retainedFailedPaths lists artifacts held back for failure debugging or
// transcript recovery.
func (r *Reclaimer) retainedFailedPaths(ctx context.Context) (map[string]struct{}, error) {
	tasks, err := r.store.TasksWithArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reclaim: list artifact tasks: %w", err)
	}
	retained := make(map[string]struct{})
	for _, task := range tasks {
		if r.isRetained(task) {
			retained[filepath.Clean(task.ArtifactPath)] = struct{}{}
		}
	}
	return retained, nil
}

type stagedFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (r *Reclaimer) scan() ([]stagedFile, int64, error) {
	root := r.cfg.Paths.StagingDir
	var (
		files []stagedFile
		total int64
	)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, stagedFile{path: filepath.Clean(p), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("reclaim: scan staging: %w", err)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, total, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
