package testsupport

import (
	"path/filepath"
	"testing"

	"soundcrate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StorageDir = filepath.Join(base, "storage")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Paths.PublicBaseURL = "http://localhost"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Lifecycle.SweepIntervalSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithStorageLimit caps the default per-account storage quota.
func WithStorageLimit(bytes int64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Limits.StorageBytes = bytes
	}
}

// WithBandwidthLimit caps the default per-account monthly bandwidth quota.
func WithBandwidthLimit(bytes int64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Limits.BandwidthBytesMonth = bytes
	}
}

// WithMaxUpload caps the accepted upload size.
func WithMaxUpload(bytes int64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Ingest.MaxUploadBytes = bytes
	}
}
