package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scribed/internal/services"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client wraps the yt-dlp binary for metadata probes and audio fetches.
type Client struct {
	cfg    Config
	binary string
	runner CommandRunner
}

// NewClient creates a yt-dlp client with the given configuration.
func NewClient(cfg Config, binary string) *Client {
	if binary == "" {
		binary = Command
	}
	return &Client{cfg: cfg, binary: binary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (c *Client) WithCommandRunner(runner CommandRunner) {
	c.runner = runner
}

// Binary returns the configured yt-dlp binary name for health checks.
func (c *Client) Binary() string {
	return c.binary
}

// Metadata describes a video as reported by yt-dlp.
type Metadata struct {
	VideoID         string `json:"id"`
	Title           string `json:"title"`
	ChannelID       string `json:"channel_id"`
	ChannelName     string `json:"channel"`
	UploadDate      string `json:"upload_date"`
	DurationSeconds int64  `json:"duration"`
	WebpageURL      string `json:"webpage_url"`
}

// FetchResult describes a downloaded audio artifact.
type FetchResult struct {
	Path      string
	SizeBytes int64
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.runner != nil {
		return c.runner(ctx, c.binary, args...)
	}
	cmd := exec.CommandContext(ctx, c.binary, args...) //nolint:gosec
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// Probe fetches video metadata without downloading any media.
func (c *Client) Probe(ctx context.Context, url string) (Metadata, error) {
	var meta Metadata
	if url == "" {
		return meta, services.Wrap(services.ErrValidation, "fetch", "probe", "Video URL is required", nil)
	}

	// A hung probe must not wedge a worker; the fetch timeout bounds it too.
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	args := []string{"--dump-json", "--skip-download", "--no-warnings"}
	if c.cfg.CookiesFile != "" {
		args = append(args, "--cookies", c.cfg.CookiesFile)
	}
	args = append(args, url)

	output, err := c.run(ctx, args...)
	if err != nil {
		return meta, classifyError("probe", url, output, err)
	}

	// --dump-json may emit one JSON object per line for playlists; take the first.
	line := firstJSONLine(output)
	if err := json.Unmarshal(line, &meta); err != nil {
		return meta, services.Wrap(
			services.ErrModelFailure, "fetch", "probe",
			"yt-dlp returned unparseable metadata", err)
	}
	if meta.VideoID == "" {
		return meta, services.Wrap(
			services.ErrModelFailure, "fetch", "probe",
			"yt-dlp metadata missing video id", nil)
	}
	return meta, nil
}

// Fetch downloads the audio track for a video into destDir as MP3. The
// returned path uses baseName with the extension yt-dlp produced.
func (c *Client) Fetch(ctx context.Context, url, destDir, baseName string) (FetchResult, error) {
	var result FetchResult
	if url == "" {
		return result, services.Wrap(services.ErrValidation, "fetch", "download", "Video URL is required", nil)
	}
	if destDir == "" {
		return result, services.Wrap(services.ErrValidation, "fetch", "download", "Destination directory is required", nil)
	}
	if baseName == "" {
		baseName = "audio"
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return result, services.Wrap(services.ErrPersistence, "fetch", "download", "Could not create staging directory", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	template := filepath.Join(destDir, baseName+".%(ext)s")
	args := []string{
		"--no-progress",
		"--no-warnings",
		"--no-playlist",
		"-f", FormatSpec,
		"-x",
		"--audio-format", AudioFormat,
		"--audio-quality", AudioQuality,
		"-o", template,
	}
	if c.cfg.CookiesFile != "" {
		args = append(args, "--cookies", c.cfg.CookiesFile)
	}
	args = append(args, url)

	output, err := c.run(ctx, args...)
	if err != nil {
		return result, classifyError("download", url, output, err)
	}

	path, info, err := locateArtifact(destDir, baseName)
	if err != nil {
		return result, services.Wrap(
			services.ErrModelFailure, "fetch", "download",
			"yt-dlp reported success but no audio file was produced", err)
	}

	if c.cfg.MaxSizeBytes > 0 && info.Size() > c.cfg.MaxSizeBytes {
		_ = os.Remove(path)
		return result, services.Wrap(
			services.ErrTooLarge, "fetch", "download",
			fmt.Sprintf("Audio artifact is %d bytes, above the %d byte cap", info.Size(), c.cfg.MaxSizeBytes),
			nil)
	}

	result.Path = path
	result.SizeBytes = info.Size()
	return result, nil
}

func locateArtifact(destDir, baseName string) (string, os.FileInfo, error) {
	for _, ext := range candidateExtensions {
		path := filepath.Join(destDir, baseName+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, info, nil
		}
	}
	return "", nil, fmt.Errorf("no artifact matching %s.* in %s", baseName, destDir)
}

func firstJSONLine(output []byte) []byte {
	for _, line := range bytes.Split(output, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return trimmed
		}
	}
	return bytes.TrimSpace(output)
}

func classifyError(operation, url string, output []byte, err error) error {
	detail := strings.TrimSpace(string(output))
	if detail == "" {
		detail = err.Error()
	}
	message := fmt.Sprintf("yt-dlp %s failed for %s", operation, url)

	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "fetch", operation, message, fmt.Errorf("%w: %s", err, detail))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "this video has been removed"),
		strings.Contains(lower, "404"):
		return services.Wrap(services.ErrNotFound, "fetch", operation, message, errors.New(detail))
	case strings.Contains(lower, "members-only"),
		strings.Contains(lower, "sign in to confirm"),
		strings.Contains(lower, "age-restricted"):
		return services.Wrap(services.ErrUnavailable, "fetch", operation, message, errors.New(detail))
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "unable to download"),
		strings.Contains(lower, "temporary failure"):
		return services.Wrap(services.ErrNetwork, "fetch", operation, message, errors.New(detail))
	}
	return services.Wrap(services.ErrModelFailure, "fetch", operation, message, errors.New(detail))
}
