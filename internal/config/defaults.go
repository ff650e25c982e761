package config

const (
	defaultStagingDir           = "~/.local/share/scribed/staging"
	defaultLogDir               = "~/.local/share/scribed/logs"
	defaultAPIBind              = "127.0.0.1:7537"
	defaultCheckIntervalMinutes = 60
	defaultFeedTimeoutSeconds   = 30
	defaultMaxSizeMB            = 100
	defaultFetchTimeoutSeconds  = 900
	defaultFetchRetries         = 2
	defaultModel                = "large-v3"
	defaultDevice               = "cpu"
	defaultComputeType          = "int8"
	defaultTranscribeTimeout    = 3600
	defaultMaxVideoLengthMin    = 180
	defaultMaxTempStorageGB     = 2.0
	defaultCleanupThreshold     = 0.8
	defaultSweepIntervalMinutes = 15
	defaultMaxConcurrent        = 3
	defaultQueuePollInterval    = 5
	defaultErrorRetryInterval   = 10
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultMaxAutoRetries       = 2
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Discovery: Discovery{
			CheckIntervalMinutes: defaultCheckIntervalMinutes,
			FeedTimeoutSeconds:   defaultFeedTimeoutSeconds,
		},
		Fetcher: Fetcher{
			MaxSizeMB:           defaultMaxSizeMB,
			FetchTimeoutSeconds: defaultFetchTimeoutSeconds,
			Retries:             defaultFetchRetries,
		},
		Transcriber: Transcriber{
			Model:                    defaultModel,
			Device:                   defaultDevice,
			ComputeType:              defaultComputeType,
			TranscribeTimeoutSeconds: defaultTranscribeTimeout,
			MaxVideoLengthMinutes:    defaultMaxVideoLengthMin,
		},
		Storage: Storage{
			MaxTempStorageGB:     defaultMaxTempStorageGB,
			CleanupThreshold:     defaultCleanupThreshold,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Workflow: Workflow{
			MaxConcurrent:      defaultMaxConcurrent,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			MaxAutoRetries:     defaultMaxAutoRetries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
