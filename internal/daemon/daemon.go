package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"soundcrate/internal/access"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/ingest"
	"soundcrate/internal/lifecycle"
	"soundcrate/internal/logging"
	"soundcrate/internal/pipeline"
	"soundcrate/internal/store"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	blobs    *blob.Store
	ingestor *ingest.Ingestor
	broker   *access.Broker
	pipeline *pipeline.Manager
	sweeper  *lifecycle.Sweeper

	api *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DBPath       string
	LockFilePath string
	Jobs         store.JobStats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, blobs *blob.Store, ingestor *ingest.Ingestor, broker *access.Broker, pl *pipeline.Manager, sweeper *lifecycle.Sweeper, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || blobs == nil || ingestor == nil || broker == nil || pl == nil || sweeper == nil {
		return nil, errors.New("daemon requires config, store, blobs, ingestor, broker, pipeline, and sweeper")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "soundcrated.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		blobs:    blobs,
		ingestor: ingestor,
		broker:   broker,
		pipeline: pl,
		sweeper:  sweeper,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the pipeline, the sweeper, and
// the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another soundcrate daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pipeline.Start(runCtx); err != nil {
		d.releaseOnStartFailure()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.sweeper.Start(runCtx); err != nil {
		d.pipeline.Stop()
		d.releaseOnStartFailure()
		return fmt.Errorf("start sweeper: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.sweeper.Stop()
			d.pipeline.Stop()
			d.releaseOnStartFailure()
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("soundcrate daemon started", logging.Args(logging.String("lock", d.lockPath))...)
	return nil
}

func (d *Daemon) releaseOnStartFailure() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.sweeper.Stop()
	d.pipeline.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("soundcrate daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if stats, err := d.store.JobStatsSummary(ctx); err == nil {
		status.Jobs = stats
	} else {
		d.logger.Warn("failed to summarize job stats", logging.Args(logging.Error(err))...)
	}
	return status
}

// Addr returns the API listen address, useful when binding to port zero.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}
