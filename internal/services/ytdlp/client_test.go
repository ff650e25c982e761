package ytdlp_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scribed/internal/services"
	"scribed/internal/services/ytdlp"
	"scribed/internal/testsupport"
)

func TestProbeParsesMetadata(t *testing.T) {
	client := ytdlp.NewClient(ytdlp.Config{}, "")
	client.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`{"id":"abc123","title":"A Video","channel_id":"UC1","channel":"Chan","upload_date":"20260801","duration":930,"webpage_url":"https://www.youtube.com/watch?v=abc123"}`), nil
	})

	meta, err := client.Probe(context.Background(), "https://www.youtube.com/watch?v=abc123")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if meta.VideoID != "abc123" || meta.ChannelID != "UC1" {
		t.Fatalf("unexpected metadata: %#v", meta)
	}
	if meta.DurationSeconds != 930 {
		t.Fatalf("expected duration 930, got %d", meta.DurationSeconds)
	}
}

func TestProbeTimesOut(t *testing.T) {
	client := ytdlp.NewClient(ytdlp.Config{Timeout: 10 * time.Millisecond}, "")
	client.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := client.Probe(context.Background(), "https://www.youtube.com/watch?v=hung")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestProbeRequiresURL(t *testing.T) {
	client := ytdlp.NewClient(ytdlp.Config{}, "")
	if _, err := client.Probe(context.Background(), ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFetchProducesArtifact(t *testing.T) {
	dir := t.TempDir()
	client := ytdlp.NewClient(ytdlp.Config{MaxSizeBytes: 1 << 20}, "")
	client.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		testsupport.WriteFile(t, filepath.Join(dir, "abc123.mp3"), 2048)
		return nil, nil
	})

	result, err := client.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc123", dir, "abc123")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Path != filepath.Join(dir, "abc123.mp3") {
		t.Fatalf("unexpected artifact path: %s", result.Path)
	}
	if result.SizeBytes != 2048 {
		t.Fatalf("expected 2048 bytes, got %d", result.SizeBytes)
	}
}

func TestFetchEnforcesSizeCap(t *testing.T) {
	dir := t.TempDir()
	client := ytdlp.NewClient(ytdlp.Config{MaxSizeBytes: 1024}, "")
	client.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		testsupport.WriteFile(t, filepath.Join(dir, "big.mp3"), 4096)
		return nil, nil
	})

	_, err := client.Fetch(context.Background(), "https://www.youtube.com/watch?v=big", dir, "big")
	if !errors.Is(err, services.ErrTooLarge) {
		t.Fatalf("expected too-large error, got %v", err)
	}
	// The oversized artifact must not linger in staging.
	if _, statErr := filepath.Glob(filepath.Join(dir, "big.*")); statErr != nil {
		t.Fatalf("glob: %v", statErr)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "big.*"))
	if len(matches) != 0 {
		t.Fatalf("expected oversized artifact removed, found %v", matches)
	}
}

func TestFetchMissingArtifact(t *testing.T) {
	client := ytdlp.NewClient(ytdlp.Config{}, "")
	client.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil
	})

	_, err := client.Fetch(context.Background(), "https://www.youtube.com/watch?v=gone", t.TempDir(), "gone")
	if !errors.Is(err, services.ErrModelFailure) {
		t.Fatalf("expected model failure, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   error
	}{
		{"removed video", "ERROR: [youtube] xyz: Video unavailable", services.ErrNotFound},
		{"private video", "ERROR: [youtube] xyz: Private video. Sign in if you've been granted access", services.ErrNotFound},
		{"members only", "ERROR: [youtube] xyz: This video is available to this channel's members-only tier", services.ErrUnavailable},
		{"rate limited", "ERROR: HTTP Error 429: Too Many Requests", services.ErrNetwork},
		{"dns failure", "ERROR: Unable to download webpage: <urlopen error [Errno -3] Temporary failure in name resolution>", services.ErrNetwork},
		{"unknown", "ERROR: something odd happened", services.ErrModelFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := ytdlp.NewClient(ytdlp.Config{}, "")
			client.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return []byte(tc.output), errors.New("exit status 1")
			})
			_, err := client.Probe(context.Background(), "https://www.youtube.com/watch?v=xyz")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
