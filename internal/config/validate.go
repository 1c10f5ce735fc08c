package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateLifecycle(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.StorageDir == "" {
		return errors.New("paths.storage_dir must be set")
	}
	if c.Paths.StorageDir == c.Paths.DataDir {
		return errors.New("paths.storage_dir must differ from paths.data_dir")
	}
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.StorageBytes <= 0 {
		return errors.New("limits.storage_bytes must be positive")
	}
	if c.Limits.BandwidthBytesMonth <= 0 {
		return errors.New("limits.bandwidth_bytes_month must be positive")
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		return errors.New("ingest.max_upload_bytes must be positive")
	}
	if c.Ingest.MaxUploadBytes > c.Limits.StorageBytes {
		return errors.New("ingest.max_upload_bytes cannot exceed limits.storage_bytes")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if strings.TrimSpace(c.Transcode.Binary) == "" {
		return errors.New("transcode.binary must be set")
	}
	if c.Transcode.Workers <= 0 {
		return errors.New("transcode.workers must be positive")
	}
	if c.Transcode.MaxAttempts <= 0 {
		return errors.New("transcode.max_attempts must be positive")
	}
	return ensurePositiveMap(map[string]int{
		"transcode.timeout_seconds": c.Transcode.TimeoutSeconds,
		"transcode.backoff_seconds": c.Transcode.BackoffSeconds,
	})
}

func (c *Config) validateLifecycle() error {
	return ensurePositiveMap(map[string]int{
		"lifecycle.sweep_interval_seconds": c.Lifecycle.SweepIntervalSeconds,
		"lifecycle.trash_retention_days":   c.Lifecycle.TrashRetentionDays,
	})
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":   c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":  c.Workflow.ErrorRetryInterval,
		"workflow.lease_timeout_seconds": c.Workflow.LeaseTimeoutSeconds,
		"webhook.request_timeout":        c.Webhook.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
