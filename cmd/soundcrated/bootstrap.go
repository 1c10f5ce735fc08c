package main

import (
	"fmt"
	"log/slog"

	"soundcrate/internal/access"
	"soundcrate/internal/accounts"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/daemon"
	"soundcrate/internal/ingest"
	"soundcrate/internal/lifecycle"
	"soundcrate/internal/notify"
	"soundcrate/internal/pipeline"
	"soundcrate/internal/services/ffmpeg"
	"soundcrate/internal/store"
)

// bootstrap wires the daemon's dependency graph from configuration.
func bootstrap(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	blobs, err := blob.New(cfg.Paths.StorageDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	limits := accounts.NewStaticProvider(cfg.Limits.StorageBytes, cfg.Limits.BandwidthBytesMonth)
	notifier := notify.NewService(cfg)
	encoder := ffmpeg.NewClient(cfg.Transcode.Binary)

	ingestor := ingest.New(cfg, st, blobs, limits, notifier, logger)
	broker := access.NewBroker(cfg, st, blobs, limits, logger)
	pl := pipeline.NewManager(cfg, st, blobs, limits, encoder, notifier, logger)
	sweeper := lifecycle.NewSweeper(cfg, st, blobs, notifier, logger)

	d, err := daemon.New(cfg, st, blobs, ingestor, broker, pl, sweeper, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}
