package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	langpkg "scribed/internal/language"
	"scribed/internal/services"
)

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging and persistence.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// CUDAEnabled returns whether GPU inference is configured.
func (s *Service) CUDAEnabled() bool {
	return s.cfg.Device == CUDADevice
}

func (s *Service) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking
	// WhisperX/pyannote. Force legacy behavior so checkpoints load.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	return cmd.CombinedOutput()
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Result is the parsed outcome of a transcription run.
type Result struct {
	Text       string
	Segments   []Segment
	Language   string
	Confidence float64
	WordCount  int
	Model      string
}

// Transcribe runs WhisperX on an audio file and parses its JSON output.
// workDir is where WhisperX writes its output files.
func (s *Service) Transcribe(ctx context.Context, source, workDir string) (Result, error) {
	var result Result

	if source == "" {
		return result, services.Wrap(services.ErrValidation, "transcribe", "run", "Audio path is required", nil)
	}
	if workDir == "" {
		workDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result, services.Wrap(services.ErrPersistence, "transcribe", "run", "Could not create output directory", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	args := s.buildArgs(source, workDir)
	output, err := s.run(ctx, UVXCommand, args...)
	if err != nil {
		return result, classifyError(source, output, err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	jsonPath := filepath.Join(workDir, baseName+".json")
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return result, services.Wrap(
			services.ErrModelFailure, "transcribe", "run",
			"WhisperX finished but produced no parseable output", err)
	}

	result = buildResult(payload, s.Model())
	if strings.TrimSpace(result.Text) == "" {
		return result, services.Wrap(
			services.ErrEmptyOutput, "transcribe", "run",
			"WhisperX produced an empty transcript", nil)
	}
	if result.Language == "" {
		return result, services.Wrap(
			services.ErrModelFailure, "transcribe", "run",
			"WhisperX did not report a detected language", nil)
	}
	return result, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, workDir string) []string {
	args := make([]string, 0, 24)

	if s.CUDAEnabled() {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", workDir,
		"--output_format", OutputFormat,
	)

	if s.cfg.Diarize && s.cfg.HFToken != "" {
		args = append(args, "--diarize", "--hf_token", s.cfg.HFToken)
	}

	if s.CUDAEnabled() {
		args = append(args, "--device", CUDADevice)
	} else {
		computeType := s.cfg.ComputeType
		if computeType == "" {
			computeType = DefaultComputeType
		}
		args = append(args, "--device", CPUDevice, "--compute_type", computeType)
	}

	return args
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

func buildResult(payload whisperXPayload, model string) Result {
	var (
		parts      []string
		scoreSum   float64
		scoreCount int
		wordCount  int
	)
	for _, seg := range payload.Segments {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
			wordCount += countWords(text)
		}
		for _, word := range seg.Words {
			if word.Score > 0 {
				scoreSum += word.Score
				scoreCount++
			}
		}
	}

	result := Result{
		Text:     strings.Join(parts, " "),
		Segments: payload.Segments,
		Language: langpkg.ToISO2(payload.Language),
		Model:    model,
	}
	result.WordCount = wordCount
	if scoreCount > 0 {
		result.Confidence = scoreSum / float64(scoreCount)
	}
	return result
}

func countWords(text string) int {
	return len(strings.FieldsFunc(text, unicode.IsSpace))
}

func classifyError(source string, output []byte, err error) error {
	detail := strings.TrimSpace(string(output))
	if detail == "" {
		detail = err.Error()
	}
	message := fmt.Sprintf("WhisperX failed for %s", filepath.Base(source))

	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "transcribe", "run", message, fmt.Errorf("%w: %s", err, detail))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "resolve"):
		return services.Wrap(services.ErrNetwork, "transcribe", "run", message, errors.New(detail))
	case strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "cuda"):
		return services.Wrap(services.ErrUnavailable, "transcribe", "run", message, errors.New(detail))
	}
	return services.Wrap(services.ErrModelFailure, "transcribe", "run", message, errors.New(detail))
}

// MarshalSegments serializes segments for transcript persistence.
func MarshalSegments(segments []Segment) (string, error) {
	if len(segments) == 0 {
		return "", nil
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("marshal segments: %w", err)
	}
	return string(data), nil
}
