package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateFetcher(); err != nil {
		return err
	}
	if err := c.validateTranscriber(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateFetcher() error {
	if err := ensurePositiveMap(map[string]int{
		"discovery.check_interval_minutes": c.Discovery.CheckIntervalMinutes,
		"discovery.feed_timeout_seconds":   c.Discovery.FeedTimeoutSeconds,
		"fetcher.max_size_mb":              c.Fetcher.MaxSizeMB,
		"fetcher.fetch_timeout_seconds":    c.Fetcher.FetchTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Fetcher.Retries < 0 {
		return errors.New("fetcher.retries must be >= 0")
	}
	return nil
}

func (c *Config) validateTranscriber() error {
	if c.Transcriber.Model == "" {
		return errors.New("transcriber.model must be set")
	}
	switch c.Transcriber.Device {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("transcriber.device must be \"cpu\" or \"cuda\", got %q", c.Transcriber.Device)
	}
	if c.Transcriber.Diarize && c.Transcriber.HFToken == "" {
		return errors.New("transcriber.hf_token must be set when transcriber.diarize is true")
	}
	return ensurePositiveMap(map[string]int{
		"transcriber.transcribe_timeout_seconds": c.Transcriber.TranscribeTimeoutSeconds,
		"transcriber.max_video_length_minutes":   c.Transcriber.MaxVideoLengthMinutes,
	})
}

func (c *Config) validateStorage() error {
	if c.Storage.MaxTempStorageGB <= 0 {
		return errors.New("storage.max_temp_storage_gb must be positive")
	}
	if c.Storage.CleanupThreshold <= 0 || c.Storage.CleanupThreshold > 1 {
		return errors.New("storage.cleanup_threshold must be between 0 and 1")
	}
	if c.Storage.SweepIntervalMinutes <= 0 {
		return errors.New("storage.sweep_interval_minutes must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_concurrent":       c.Workflow.MaxConcurrent,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.MaxAutoRetries < 0 {
		return errors.New("workflow.max_auto_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
