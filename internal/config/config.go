package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	StorageDir    string `toml:"storage_dir"`
	StagingDir    string `toml:"staging_dir"`
	LogDir        string `toml:"log_dir"`
	APIBind       string `toml:"api_bind"`
	APIToken      string `toml:"api_token"`
	PublicBaseURL string `toml:"public_base_url"`
}

// Limits contains the default per-account quota limits. These stand in for
// the external account service that owns plan limits in production.
type Limits struct {
	StorageBytes        int64 `toml:"storage_bytes"`
	BandwidthBytesMonth int64 `toml:"bandwidth_bytes_month"`
}

// Ingest contains upload validation settings.
type Ingest struct {
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
	AllowedTypes   []string `toml:"allowed_types"`
}

// Transcode contains configuration for the external transcoding tool and
// the worker pool that drives it.
type Transcode struct {
	Binary         string `toml:"binary"`
	Workers        int    `toml:"workers"`
	MaxAttempts    int    `toml:"max_attempts"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BackoffSeconds int    `toml:"backoff_seconds"`
}

// Lifecycle contains scheduler timing for expiration and purge sweeps.
type Lifecycle struct {
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	TrashRetentionDays   int `toml:"trash_retention_days"`
}

// Webhook contains configuration for the outbound event sink.
type Webhook struct {
	URL            string `toml:"url"`
	RequestTimeout int    `toml:"request_timeout"`
	Created        bool   `toml:"created"`
	Encoded        bool   `toml:"encoded"`
	Purged         bool   `toml:"purged"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains daemon polling intervals and lease timing.
type Workflow struct {
	QueuePollInterval   int `toml:"queue_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	LeaseTimeoutSeconds int `toml:"lease_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for soundcrate.
//
// Configuration sections by subsystem:
//   - Paths: database, blob storage, staging, and API bind address
//   - Limits: default per-account storage and bandwidth quotas
//   - Ingest: upload size cap and MIME allow-list
//   - Transcode: external tool binary, worker pool, retry ceiling
//   - Lifecycle: sweep interval and trash retention window
//   - Webhook: outbound event sink settings
//   - Workflow: queue polling and lease timing
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Limits    Limits    `toml:"limits"`
	Ingest    Ingest    `toml:"ingest"`
	Transcode Transcode `toml:"transcode"`
	Lifecycle Lifecycle `toml:"lifecycle"`
	Webhook   Webhook   `toml:"webhook"`
	Workflow  Workflow  `toml:"workflow"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/soundcrate/config.toml")
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
		_, err = os.Stat(expanded)
		if err != nil {
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
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates all configured directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StorageDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}
