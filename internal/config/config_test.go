package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"soundcrate/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("reported an absent file as existing")
	}
	if resolved == "" {
		t.Fatal("resolved path empty")
	}

	defaults := config.Default()
	if cfg.Transcode.Binary != defaults.Transcode.Binary {
		t.Fatalf("transcode binary %q, want default %q", cfg.Transcode.Binary, defaults.Transcode.Binary)
	}
	if cfg.Limits.StorageBytes != defaults.Limits.StorageBytes {
		t.Fatalf("storage limit %d, want default %d", cfg.Limits.StorageBytes, defaults.Limits.StorageBytes)
	}
}

func TestWriteSampleThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("sample file not detected")
	}
	if resolved != path {
		t.Fatalf("resolved %q, want %q", resolved, path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample configuration invalid: %v", err)
	}

	// A second write must not clobber the existing file.
	if err := config.WriteSample(path); err == nil {
		t.Fatal("WriteSample overwrote an existing file")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[transcode]
workers = 7
binary = "ffmpeg6"

[limits]
storage_bytes = 1073741824
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transcode.Workers != 7 {
		t.Fatalf("workers %d, want 7", cfg.Transcode.Workers)
	}
	if cfg.Transcode.Binary != "ffmpeg6" {
		t.Fatalf("binary %q, want ffmpeg6", cfg.Transcode.Binary)
	}
	if cfg.Limits.StorageBytes != 1073741824 {
		t.Fatalf("storage limit %d, want 1 GiB", cfg.Limits.StorageBytes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		detail  string
	}{
		{
			name:    "zero workers",
			content: "[transcode]\nworkers = 0\n",
			detail:  "transcode.workers",
		},
		{
			name:    "unknown log format",
			content: "[logging]\nformat = \"xml\"\n",
			detail:  "logging.format",
		},
		{
			name:    "upload cap above storage quota",
			content: "[ingest]\nmax_upload_bytes = 99999999999999\n",
			detail:  "max_upload_bytes",
		},
		{
			name:    "negative retention",
			content: "[lifecycle]\ntrash_retention_days = -1\n",
			detail:  "trash_retention_days",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("invalid configuration accepted")
			}
			if !strings.Contains(err.Error(), tc.detail) {
				t.Fatalf("error %q does not mention %q", err, tc.detail)
			}
		})
	}
}

func TestLoadNormalizesValues(t *testing.T) {
	path := writeConfigFile(t, `
[paths]
public_base_url = "https://cdn.example.com/"

[ingest]
allowed_types = [" Audio/MPEG ", "", "audio/FLAC"]

[logging]
format = " JSON "
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Paths.PublicBaseURL != "https://cdn.example.com" {
		t.Fatalf("trailing slash kept: %q", cfg.Paths.PublicBaseURL)
	}
	want := []string{"audio/mpeg", "audio/flac"}
	if len(cfg.Ingest.AllowedTypes) != len(want) {
		t.Fatalf("allowed types %v, want %v", cfg.Ingest.AllowedTypes, want)
	}
	for i, mime := range want {
		if cfg.Ingest.AllowedTypes[i] != mime {
			t.Fatalf("allowed types %v, want %v", cfg.Ingest.AllowedTypes, want)
		}
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format %q, want json", cfg.Logging.Format)
	}
}

func TestEnsureDirectoriesCreatesTree(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StorageDir = filepath.Join(base, "storage")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.StorageDir, cfg.Paths.StagingDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %s not created: %v", dir, err)
		}
	}
}
