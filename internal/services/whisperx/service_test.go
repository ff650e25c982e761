package whisperx_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribed/internal/services"
	"scribed/internal/services/whisperx"
)

const samplePayload = `{
  "language": "en",
  "segments": [
    {"text": " Hello there.", "start": 0.0, "end": 1.2,
     "words": [{"word": "Hello", "start": 0.0, "end": 0.5, "score": 0.9},
               {"word": "there.", "start": 0.6, "end": 1.2, "score": 0.7}]},
    {"text": "General remarks follow.", "start": 1.3, "end": 3.0,
     "words": [{"word": "General", "start": 1.3, "end": 1.7, "score": 0.8}]}
  ]
}`

func TestTranscribeParsesOutput(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(source, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	svc := whisperx.NewService(whisperx.Config{Model: "large-v3"})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != whisperx.UVXCommand {
			t.Fatalf("expected uvx command, got %s", name)
		}
		payload := filepath.Join(dir, "audio.json")
		if err := os.WriteFile(payload, []byte(samplePayload), 0o644); err != nil {
			t.Fatalf("write payload: %v", err)
		}
		return nil, nil
	})

	result, err := svc.Transcribe(context.Background(), source, dir)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "Hello there. General remarks follow." {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.Language != "en" {
		t.Fatalf("expected language en, got %q", result.Language)
	}
	if result.WordCount != 5 {
		t.Fatalf("expected 5 words, got %d", result.WordCount)
	}
	if result.Confidence < 0.79 || result.Confidence > 0.81 {
		t.Fatalf("expected mean confidence 0.8, got %f", result.Confidence)
	}
	if result.Model != "large-v3" {
		t.Fatalf("expected model recorded, got %q", result.Model)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
}

func TestTranscribeEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "silent.mp3")
	if err := os.WriteFile(source, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	svc := whisperx.NewService(whisperx.Config{})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		payload := filepath.Join(dir, "silent.json")
		if err := os.WriteFile(payload, []byte(`{"language":"en","segments":[]}`), 0o644); err != nil {
			t.Fatalf("write payload: %v", err)
		}
		return nil, nil
	})

	_, err := svc.Transcribe(context.Background(), source, dir)
	if !errors.Is(err, services.ErrEmptyOutput) {
		t.Fatalf("expected empty-output error, got %v", err)
	}
}

func TestTranscribeMissingLanguage(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mystery.mp3")
	if err := os.WriteFile(source, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	svc := whisperx.NewService(whisperx.Config{})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		payload := filepath.Join(dir, "mystery.json")
		body := `{"language":"","segments":[{"text":" Hello there.","start":0,"end":1.2}]}`
		if err := os.WriteFile(payload, []byte(body), 0o644); err != nil {
			t.Fatalf("write payload: %v", err)
		}
		return nil, nil
	})

	_, err := svc.Transcribe(context.Background(), source, dir)
	if !errors.Is(err, services.ErrModelFailure) {
		t.Fatalf("expected model failure without a detected language, got %v", err)
	}
}

func TestTranscribeMissingJSON(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(source, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	svc := whisperx.NewService(whisperx.Config{})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil
	})

	_, err := svc.Transcribe(context.Background(), source, dir)
	if !errors.Is(err, services.ErrModelFailure) {
		t.Fatalf("expected model failure, got %v", err)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(source, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	svc := whisperx.NewService(whisperx.Config{Timeout: 10 * time.Millisecond})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := svc.Transcribe(context.Background(), source, dir)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestTranscribeRequiresSource(t *testing.T) {
	svc := whisperx.NewService(whisperx.Config{})
	if _, err := svc.Transcribe(context.Background(), "", t.TempDir()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarshalSegments(t *testing.T) {
	out, err := whisperx.MarshalSegments(nil)
	if err != nil || out != "" {
		t.Fatalf("expected empty marshal, got %q err %v", out, err)
	}
	out, err = whisperx.MarshalSegments([]whisperx.Segment{{Text: "hi", Start: 0, End: 1}})
	if err != nil {
		t.Fatalf("MarshalSegments failed: %v", err)
	}
	if out == "" {
		t.Fatal("expected JSON output")
	}
}
