package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"soundcrate/internal/accounts"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/logging"
	"soundcrate/internal/notify"
	"soundcrate/internal/services"
	"soundcrate/internal/services/ffmpeg"
	"soundcrate/internal/store"
)

// targetFormats enumerates the renditions the pipeline will produce.
var targetFormats = map[string]struct{}{
	"mp3":  {},
	"opus": {},
	"aac":  {},
	"flac": {},
	"ogg":  {},
}

// targetBitrates enumerates accepted bitrate requests in kbit/s.
var targetBitrates = map[int]struct{}{
	0:   {},
	64:  {},
	96:  {},
	128: {},
	192: {},
	256: {},
	320: {},
}

// Manager drives the transcode queue with a bounded worker pool. Jobs are
// claimed with a lease so a crashed worker's claim expires and the job runs
// again elsewhere.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	blobs    *blob.Store
	limits   accounts.Provider
	encoder  ffmpeg.Client
	notifier notify.Service
	logger   *slog.Logger

	pollInterval time.Duration
	leaseTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a pipeline manager.
func NewManager(cfg *config.Config, st *store.Store, blobs *blob.Store, limits accounts.Provider, encoder ffmpeg.Client, notifier notify.Service, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        st,
		blobs:        blobs,
		limits:       limits,
		encoder:      encoder,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		leaseTimeout: time.Duration(cfg.Workflow.LeaseTimeoutSeconds) * time.Second,
	}
}

// Enqueue validates the request and adds a transcode job to the queue. The
// source must be an active asset owned by the caller.
func (m *Manager) Enqueue(ctx context.Context, callerID, assetID, format string, bitrate int) (*store.TranscodeJob, error) {
	if _, ok := targetFormats[format]; !ok {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "enqueue",
			fmt.Sprintf("unsupported target format %q", format), nil)
	}
	if _, ok := targetBitrates[bitrate]; !ok {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "enqueue",
			fmt.Sprintf("unsupported target bitrate %d", bitrate), nil)
	}

	asset, err := m.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "enqueue", "look up asset", err)
	}
	if asset == nil || asset.OwnerID != callerID {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "enqueue",
			fmt.Sprintf("asset %s not found", assetID), nil)
	}
	if asset.Lifecycle != store.LifecycleActive {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "enqueue",
			"cannot transcode a trashed asset", nil)
	}

	job, err := m.store.EnqueueTranscode(ctx, asset.ID, format, strconv.Itoa(bitrate), m.cfg.Transcode.MaxAttempts)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "enqueue", "enqueue job", err)
	}

	m.logger.InfoContext(ctx, "transcode job queued",
		logging.Args(
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldAssetID, asset.ID),
			logging.String("format", format),
			logging.Int("bitrate", bitrate),
		)...)
	return job, nil
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}

	workers := m.cfg.Transcode.Workers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	return nil
}

// Stop terminates background processing and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().UTC()
		if reclaimed, err := m.store.ReclaimExpiredLeases(ctx, now); err != nil {
			logger.Warn("lease reclaim failed; stuck jobs may remain", logging.Args(logging.Error(err))...)
		} else if reclaimed > 0 {
			logger.Info("reclaimed expired job leases", logging.Args(logging.Int64("count", reclaimed))...)
		}

		job, err := m.store.ClaimNextJob(ctx, now, m.leaseTimeout)
		if err != nil {
			logger.Error("failed to claim next job", logging.Args(logging.Error(err))...)
			if !m.sleep(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second) {
				return
			}
			continue
		}
		if job == nil {
			if !m.sleep(ctx, m.pollInterval) {
				return
			}
			continue
		}

		if err := m.process(ctx, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.settleFailure(ctx, logger, job, err)
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// settleFailure routes a job failure to its terminal or retry path. Failures
// that another attempt cannot fix go dead immediately; the rest requeue with
// exponential backoff until the attempt ceiling.
func (m *Manager) settleFailure(ctx context.Context, logger *slog.Logger, job *store.TranscodeJob, cause error) {
	ctx = services.WithJobID(ctx, job.ID)

	if services.IsTerminal(cause) || job.Attempts >= job.MaxAttempts {
		if err := m.store.MarkJobDead(ctx, job.ID, cause.Error()); err != nil {
			logger.Error("failed to mark job dead", logging.Args(logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))...)
			return
		}
		logger.Warn("transcode job dead",
			logging.Args(
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String(logging.FieldAssetID, job.AssetID),
				logging.Int("attempts", job.Attempts),
				logging.Error(cause),
			)...)
		if err := m.notifier.JobDead(ctx, job.ID, job.AssetID, cause.Error()); err != nil {
			logger.Warn("job dead notification failed", logging.Args(logging.Error(err))...)
		}
		return
	}

	next := time.Now().UTC().Add(m.backoff(job.Attempts))
	if err := m.store.RequeueJob(ctx, job.ID, cause.Error(), next); err != nil {
		logger.Error("failed to requeue job", logging.Args(logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))...)
		return
	}
	logger.Info("transcode job requeued",
		logging.Args(
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Int("attempts", job.Attempts),
			logging.Duration("backoff", time.Until(next)),
			logging.Error(cause),
		)...)
}

// backoff returns the delay before the next attempt. The base delay doubles
// per completed attempt and is capped at one hour.
func (m *Manager) backoff(attempts int) time.Duration {
	base := time.Duration(m.cfg.Transcode.BackoffSeconds) * time.Second
	if base <= 0 {
		base = 30 * time.Second
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}
