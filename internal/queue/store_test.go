package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"scribed/internal/queue"
	"scribed/internal/testsupport"
)

func admit(t *testing.T, store *queue.Store, videoID, channelID string) *queue.Task {
	t.Helper()
	task, admitted, err := store.AdmitTask(context.Background(), queue.Candidate{
		VideoID:   videoID,
		ChannelID: channelID,
		Title:     "Video " + videoID,
		SourceURL: "https://www.youtube.com/watch?v=" + videoID,
	})
	if err != nil {
		t.Fatalf("AdmitTask failed: %v", err)
	}
	if !admitted {
		t.Fatalf("expected %s to be admitted", videoID)
	}
	return task
}

func TestAdmitTaskDeduplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	task := admit(t, store, "vid-1", "chan-a")
	if task.ID == 0 {
		t.Fatal("expected task ID to be assigned")
	}
	if task.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", task.Status)
	}

	again, admitted, err := store.AdmitTask(ctx, queue.Candidate{
		VideoID:   "vid-1",
		SourceURL: "https://www.youtube.com/watch?v=vid-1",
	})
	if err != nil {
		t.Fatalf("AdmitTask repeat failed: %v", err)
	}
	if admitted {
		t.Fatal("expected duplicate admission to be rejected")
	}
	if again.ID != task.ID {
		t.Fatalf("expected existing task returned, got %d want %d", again.ID, task.ID)
	}

	// Completed videos stay deduplicated too.
	task.Status = queue.StatusCompleted
	if err := store.Update(ctx, task); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	_, admitted, err = store.AdmitTask(ctx, queue.Candidate{
		VideoID:   "vid-1",
		SourceURL: "https://www.youtube.com/watch?v=vid-1",
	})
	if err != nil {
		t.Fatalf("AdmitTask after completion failed: %v", err)
	}
	if admitted {
		t.Fatal("expected completed video to stay deduplicated")
	}
}

func TestAdmitTaskRequiresVideoID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, _, err := store.AdmitTask(context.Background(), queue.Candidate{SourceURL: "https://example.com"}); err == nil {
		t.Fatal("expected error when video id missing")
	}
	if _, _, err := store.AdmitTask(context.Background(), queue.Candidate{VideoID: "vid"}); err == nil {
		t.Fatal("expected error when source url missing")
	}
}

func TestClaimNextPendingFlipsStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	admit(t, store, "vid-1", "chan-a")

	claimed, err := store.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed task")
	}
	if claimed.Status != queue.StatusDownloading {
		t.Fatalf("expected downloading status, got %s", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", claimed.Attempts)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("expected heartbeat set on claim")
	}

	// Nothing left to claim.
	empty, err := store.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending on empty queue failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil on empty queue, got %#v", empty)
	}
}

func TestClaimNextPendingRotatesChannels(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	// Channel A floods the queue before channel B shows up.
	admit(t, store, "a1", "chan-a")
	admit(t, store, "a2", "chan-a")
	admit(t, store, "b1", "chan-b")

	first, err := store.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if first.VideoID != "a1" {
		t.Fatalf("expected oldest task a1 first, got %s", first.VideoID)
	}

	second, err := store.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second.VideoID != "b1" {
		t.Fatalf("expected channel rotation to pick b1, got %s", second.VideoID)
	}

	third, err := store.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("third claim failed: %v", err)
	}
	if third.VideoID != "a2" {
		t.Fatalf("expected a2 last, got %s", third.VideoID)
	}
}

func TestCompleteWithTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	task := admit(t, store, "vid-1", "chan-a")

	err := store.CompleteWithTranscript(ctx, task.ID, &queue.Transcript{
		VideoID:    "vid-1",
		FullText:   "hello world",
		Language:   "en",
		Confidence: 0.92,
		WordCount:  2,
		Model:      "large-v3",
	})
	if err != nil {
		t.Fatalf("CompleteWithTranscript failed: %v", err)
	}

	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("expected completed status, got %s", updated.Status)
	}
	if updated.TranscribedAt == nil {
		t.Fatal("expected transcribed_at set")
	}
	if updated.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared")
	}

	transcript, err := store.GetTranscript(ctx, "vid-1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if transcript == nil || transcript.FullText != "hello world" {
		t.Fatalf("unexpected transcript: %#v", transcript)
	}
	if transcript.Language != "en" || transcript.WordCount != 2 {
		t.Fatalf("expected transcript metadata persisted, got %#v", transcript)
	}

	count, err := store.CountTranscripts(ctx)
	if err != nil {
		t.Fatalf("CountTranscripts failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 transcript, got %d", count)
	}
}

func TestCompleteWithTranscriptUnknownTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.CompleteWithTranscript(context.Background(), 999, &queue.Transcript{
		VideoID:  "ghost",
		FullText: "text",
	})
	if err == nil {
		t.Fatal("expected error for unknown task")
	}

	// The transcript insert must have rolled back with the failed update.
	transcript, err := store.GetTranscript(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if transcript != nil {
		t.Fatalf("expected transcript rollback, got %#v", transcript)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i, status := range []queue.Status{queue.StatusDownloading, queue.StatusTranscribing} {
		task := admit(t, store, fmt.Sprintf("stuck-%d", i), "chan-a")
		task.Status = status
		now := time.Now().UTC()
		task.LastHeartbeat = &now
		if err := store.Update(ctx, task); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	count, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 tasks reset, got %d", count)
	}

	pending, err := store.TasksByStatus(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("TasksByStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(pending))
	}
	for _, task := range pending {
		if task.LastHeartbeat != nil {
			t.Fatalf("expected heartbeat cleared for %s", task.VideoID)
		}
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stale := admit(t, store, "stale", "chan-a")
	stale.Status = queue.StatusTranscribing
	past := time.Now().Add(-2 * time.Hour).UTC()
	stale.LastHeartbeat = &past
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update stale failed: %v", err)
	}

	fresh := admit(t, store, "fresh", "chan-a")
	fresh.Status = queue.StatusDownloading
	now := time.Now().UTC()
	fresh.LastHeartbeat = &now
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update fresh failed: %v", err)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 task reclaimed, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != queue.StatusPending {
		t.Fatalf("expected stale task pending, got %s", reclaimed.Status)
	}

	untouched, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Status != queue.StatusDownloading {
		t.Fatalf("expected fresh task untouched, got %s", untouched.Status)
	}
}

func TestRetryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := admit(t, store, "fail-a", "chan-a")
	b := admit(t, store, "fail-b", "chan-a")
	for _, task := range []*queue.Task{a, b} {
		task.SetFailed("boom", "network_failure")
		if err := store.Update(ctx, task); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	updated, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed all: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 tasks retried, got %d", updated)
	}

	task, err := store.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Status != queue.StatusPending {
		t.Fatalf("expected task A pending, got %s", task.Status)
	}
	if task.ErrorMessage != "" || task.FailureCode != "" {
		t.Fatalf("expected failure fields cleared, got %q/%q", task.ErrorMessage, task.FailureCode)
	}

	// Mark B failed again and retry targeted selection.
	b.SetFailed("boom again", "timeout")
	if err := store.Update(ctx, b); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, err = store.RetryFailed(ctx, b.ID)
	if err != nil {
		t.Fatalf("RetryFailed targeted: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 task retried, got %d", updated)
	}
}

func TestListSupportsStatusFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := admit(t, store, "v-a", "chan-a")
	b := admit(t, store, "v-b", "chan-a")
	b.Status = queue.StatusCompleted
	if err := store.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c := admit(t, store, "v-c", "chan-a")
	c.SetFailed("boom", "error")
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	tasks, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != a.ID || tasks[1].ID != b.ID || tasks[2].ID != c.ID {
		t.Fatalf("expected order A,B,C, got IDs %d,%d,%d", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}

	filtered, err := store.List(ctx, queue.StatusCompleted, queue.StatusFailed)
	if err != nil {
		t.Fatalf("Filtered list failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(filtered))
	}
}

func TestArtifactUsage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := admit(t, store, "art-a", "chan-a")
	a.ArtifactPath = "/tmp/a.mp3"
	a.ArtifactSizeBytes = 1000
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	b := admit(t, store, "art-b", "chan-a")
	b.ArtifactPath = "/tmp/b.mp3"
	b.ArtifactSizeBytes = 500
	if err := store.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	admit(t, store, "art-c", "chan-a")

	total, err := store.ArtifactUsage(ctx)
	if err != nil {
		t.Fatalf("ArtifactUsage failed: %v", err)
	}
	if total != 1500 {
		t.Fatalf("expected 1500 bytes, got %d", total)
	}

	owned, err := store.TasksWithArtifacts(ctx)
	if err != nil {
		t.Fatalf("TasksWithArtifacts failed: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 artifact tasks, got %d", len(owned))
	}
}

func TestChannelLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	channel, err := store.AddChannel(ctx, "UC123", "Example Channel", "https://www.youtube.com/feeds/videos.xml?channel_id=UC123")
	if err != nil {
		t.Fatalf("AddChannel failed: %v", err)
	}
	if !channel.Active {
		t.Fatal("expected new channel active")
	}

	ok, err := store.SetChannelActive(ctx, "UC123", false)
	if err != nil || !ok {
		t.Fatalf("SetChannelActive failed: ok=%v err=%v", ok, err)
	}

	active, err := store.ListChannels(ctx, true)
	if err != nil {
		t.Fatalf("ListChannels failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active channels, got %d", len(active))
	}

	// Re-adding reactivates and updates the name.
	channel, err = store.AddChannel(ctx, "UC123", "Renamed", "https://www.youtube.com/feeds/videos.xml?channel_id=UC123")
	if err != nil {
		t.Fatalf("AddChannel re-add failed: %v", err)
	}
	if !channel.Active || channel.Name != "Renamed" {
		t.Fatalf("expected reactivated renamed channel, got %#v", channel)
	}

	if err := store.TouchChannelChecked(ctx, "UC123"); err != nil {
		t.Fatalf("TouchChannelChecked failed: %v", err)
	}
	channel, err = store.GetChannel(ctx, "UC123")
	if err != nil {
		t.Fatalf("GetChannel failed: %v", err)
	}
	if channel.LastChecked == nil {
		t.Fatal("expected last_checked set")
	}

	removed, err := store.RemoveChannel(ctx, "UC123")
	if err != nil || !removed {
		t.Fatalf("RemoveChannel failed: removed=%v err=%v", removed, err)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	admit(t, store, "s-a", "chan-a")
	b := admit(t, store, "s-b", "chan-a")
	b.Status = queue.StatusTranscribing
	if err := store.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c := admit(t, store, "s-c", "chan-a")
	c.SetFailed("boom", "error")
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Pending != 1 || health.Processing != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.DatabaseReadable || !dbHealth.TableExists {
		t.Fatalf("unexpected database health: %#v", dbHealth)
	}
	if len(dbHealth.MissingColumns) != 0 {
		t.Fatalf("expected no missing columns, got %v", dbHealth.MissingColumns)
	}
	if !dbHealth.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
}
