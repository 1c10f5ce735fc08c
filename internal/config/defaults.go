package config

const (
	defaultDataDir    = "~/.local/share/soundcrate/data"
	defaultStorageDir = "~/.local/share/soundcrate/objects"
	defaultStagingDir = "~/.local/share/soundcrate/staging"
	defaultLogDir     = "~/.local/share/soundcrate/logs"
	defaultAPIBind    = "127.0.0.1:7643"
	defaultBaseURL    = "http://127.0.0.1:7643"

	defaultStorageBytes        = 10 << 30  // 10 GiB
	defaultBandwidthBytesMonth = 100 << 30 // 100 GiB

	defaultMaxUploadBytes = 500 << 20 // 500 MiB

	defaultTranscodeBinary  = "ffmpeg"
	defaultTranscodeWorkers = 2
	defaultMaxAttempts      = 3
	defaultTranscodeTimeout = 1800
	defaultBackoffSeconds   = 30

	defaultSweepInterval      = 300
	defaultTrashRetentionDays = 30

	defaultWebhookTimeout = 10

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultLeaseTimeout       = 3600

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// defaultAllowedTypes is the upload MIME allow-list applied when the config
// does not override it.
var defaultAllowedTypes = []string{
	"audio/mpeg",
	"audio/mp4",
	"audio/aac",
	"audio/ogg",
	"audio/flac",
	"audio/wav",
	"audio/x-wav",
	"audio/webm",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			StorageDir:    defaultStorageDir,
			StagingDir:    defaultStagingDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
			PublicBaseURL: defaultBaseURL,
		},
		Limits: Limits{
			StorageBytes:        defaultStorageBytes,
			BandwidthBytesMonth: defaultBandwidthBytesMonth,
		},
		Ingest: Ingest{
			MaxUploadBytes: defaultMaxUploadBytes,
			AllowedTypes:   append([]string(nil), defaultAllowedTypes...),
		},
		Transcode: Transcode{
			Binary:         defaultTranscodeBinary,
			Workers:        defaultTranscodeWorkers,
			MaxAttempts:    defaultMaxAttempts,
			TimeoutSeconds: defaultTranscodeTimeout,
			BackoffSeconds: defaultBackoffSeconds,
		},
		Lifecycle: Lifecycle{
			SweepIntervalSeconds: defaultSweepInterval,
			TrashRetentionDays:   defaultTrashRetentionDays,
		},
		Webhook: Webhook{
			RequestTimeout: defaultWebhookTimeout,
			Created:        true,
			Encoded:        true,
			Purged:         true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			LeaseTimeoutSeconds: defaultLeaseTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
