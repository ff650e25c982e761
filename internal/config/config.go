package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Discovery contains configuration for channel feed polling.
type Discovery struct {
	CheckIntervalMinutes int `toml:"check_interval_minutes"`
	FeedTimeoutSeconds   int `toml:"feed_timeout_seconds"`
}

// Fetcher contains configuration for audio acquisition.
type Fetcher struct {
	MaxSizeMB           int    `toml:"max_size_mb"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	Retries             int    `toml:"retries"`
	CookiesFile         string `toml:"cookies_file"`
}

// Transcriber contains configuration for the speech-to-text step.
type Transcriber struct {
	Model                    string `toml:"model"`
	Device                   string `toml:"device"`
	ComputeType              string `toml:"compute_type"`
	Diarize                  bool   `toml:"diarize"`
	HFToken                  string `toml:"hf_token"`
	TranscribeTimeoutSeconds int    `toml:"transcribe_timeout_seconds"`
	MaxVideoLengthMinutes    int    `toml:"max_video_length_minutes"`
}

// Storage contains configuration for temporary artifact reclamation.
type Storage struct {
	MaxTempStorageGB      float64 `toml:"max_temp_storage_gb"`
	CleanupThreshold      float64 `toml:"cleanup_threshold"`
	RetainFailedArtifacts bool    `toml:"retain_failed_artifacts"`
	SweepIntervalMinutes  int     `toml:"sweep_interval_minutes"`
}

// Workflow contains configuration for orchestrator timing and concurrency.
type Workflow struct {
	MaxConcurrent      int `toml:"max_concurrent"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	MaxAutoRetries     int `toml:"max_auto_retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for scribed.
//
// Sections by subsystem:
//   - Paths: directories and API bind address
//   - Discovery: channel feed polling cadence
//   - Fetcher: yt-dlp audio acquisition limits and retries
//   - Transcriber: whisperx model, device, and duration ceiling
//   - Storage: temporary artifact budget and reclamation policy
//   - Workflow: worker pool size, poll intervals, heartbeats, auto-retry
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Discovery   Discovery   `toml:"discovery"`
	Fetcher     Fetcher     `toml:"fetcher"`
	Transcriber Transcriber `toml:"transcriber"`
	Storage     Storage     `toml:"storage"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scribed/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("scribed.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DurationCeiling returns the maximum admissible video length.
func (c *Config) DurationCeiling() time.Duration {
	return time.Duration(c.Transcriber.MaxVideoLengthMinutes) * time.Minute
}

// MaxTempStorageBytes returns the temporary storage ceiling in bytes.
func (c *Config) MaxTempStorageBytes() int64 {
	return int64(c.Storage.MaxTempStorageGB * 1024 * 1024 * 1024)
}

// MaxArtifactBytes returns the per-artifact size ceiling in bytes.
func (c *Config) MaxArtifactBytes() int64 {
	return int64(c.Fetcher.MaxSizeMB) * 1024 * 1024
}

// CheckInterval returns the discovery polling interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Discovery.CheckIntervalMinutes) * time.Minute
}

// FeedTimeout bounds a single feed fetch.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Discovery.FeedTimeoutSeconds) * time.Second
}

// FetchTimeout bounds a single audio download.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.FetchTimeoutSeconds) * time.Second
}

// TranscribeTimeout bounds a single transcription run.
func (c *Config) TranscribeTimeout() time.Duration {
	return time.Duration(c.Transcriber.TranscribeTimeoutSeconds) * time.Second
}

// QueuePollInterval is the idle wait between queue polls.
func (c *Config) QueuePollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// ErrorRetryInterval is the backoff after a worker loop error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// HeartbeatInterval is the cadence of in-flight heartbeat updates.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout is the staleness cutoff for reclaiming in-flight tasks.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Workflow.HeartbeatTimeout) * time.Second
}

// SweepInterval is the cadence of periodic storage sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Storage.SweepIntervalMinutes) * time.Minute
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
