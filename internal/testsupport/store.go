package testsupport

import (
	"context"
	"testing"

	"scribed/internal/config"
	"scribed/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AdmitTask inserts a pending task for tests using the provided store.
func AdmitTask(t testing.TB, store *queue.Store, videoID, channelID string) *queue.Task {
	t.Helper()

	task, _, err := store.AdmitTask(context.Background(), queue.Candidate{
		VideoID:   videoID,
		ChannelID: channelID,
		Title:     "Video " + videoID,
		SourceURL: "https://www.youtube.com/watch?v=" + videoID,
	})
	if err != nil {
		t.Fatalf("store.AdmitTask: %v", err)
	}
	return task
}
