package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/logging"
	"soundcrate/internal/notify"
	"soundcrate/internal/store"
)

const sweepBatchSize = 200

// Sweeper runs the periodic expiration and purge passes. Each pass is
// idempotent: assets already settled by a previous pass, or settled
// concurrently by a user action, are skipped without double-releasing
// their quota charge.
type Sweeper struct {
	cfg      *config.Config
	store    *store.Store
	blobs    *blob.Store
	notifier notify.Service
	logger   *slog.Logger

	interval  time.Duration
	retention time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sweeping atomic.Bool
}

// NewSweeper constructs a lifecycle sweeper.
func NewSweeper(cfg *config.Config, st *store.Store, blobs *blob.Store, notifier notify.Service, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		store:     st,
		blobs:     blobs,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "lifecycle"),
		interval:  time.Duration(cfg.Lifecycle.SweepIntervalSeconds) * time.Second,
		retention: time.Duration(cfg.Lifecycle.TrashRetentionDays) * 24 * time.Hour,
	}
}

// Start begins periodic sweeping.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop terminates sweeping and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single expiration-then-purge pass. A pass that would
// overlap a still-running one is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("sweep skipped; previous pass still running")
		return
	}
	defer s.sweeping.Store(false)

	started := time.Now()
	expired := s.sweepExpired(ctx)
	purged := s.sweepTrash(ctx)

	if expired > 0 || purged > 0 {
		s.logger.Info("sweep completed",
			logging.Args(
				logging.Int("expired", expired),
				logging.Int("purged", purged),
				logging.Duration("elapsed", time.Since(started)),
			)...)
	}
}

// sweepExpired moves lapsed assets to the trash. Their stored object goes
// away and the quota charge returns immediately, so an expired asset left in
// the trash is a tombstone that cannot be restored.
func (s *Sweeper) sweepExpired(ctx context.Context) int {
	now := time.Now().UTC()
	assets, err := s.store.ListExpiredActive(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("expiration sweep query failed", logging.Args(logging.Error(err))...)
		return 0
	}

	settled := 0
	for _, asset := range assets {
		if ctx.Err() != nil {
			return settled
		}
		// The bool reports whether this call released the quota charge; the
		// asset is moved to the trash either way.
		_, err := s.store.TrashAssetReleasing(ctx, asset)
		if err != nil {
			if errors.Is(err, store.ErrLedgerUnderflow) {
				s.logger.Warn("ledger underflow during expiration; floored to zero",
					logging.Args(
						logging.Bool(logging.FieldAlert, true),
						logging.String(logging.FieldAssetID, asset.ID),
						logging.String(logging.FieldAccountID, asset.OwnerID),
					)...)
			} else {
				s.logger.Error("failed to expire asset",
					logging.Args(logging.String(logging.FieldAssetID, asset.ID), logging.Error(err))...)
				continue
			}
		}
		s.removeObject(ctx, asset)
		settled++
		s.logger.Info("asset expired",
			logging.Args(
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String(logging.FieldAccountID, asset.OwnerID),
				logging.Int64("size_bytes", asset.SizeBytes),
			)...)
	}
	return settled
}

// sweepTrash permanently removes assets whose trash retention has lapsed.
func (s *Sweeper) sweepTrash(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.retention)
	assets, err := s.store.ListTrashedBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("purge sweep query failed", logging.Args(logging.Error(err))...)
		return 0
	}

	settled := 0
	for _, asset := range assets {
		if ctx.Err() != nil {
			return settled
		}
		_, err := s.store.PurgeAssetReleasing(ctx, asset)
		if err != nil {
			if errors.Is(err, store.ErrLedgerUnderflow) {
				s.logger.Warn("ledger underflow during purge; floored to zero",
					logging.Args(
						logging.Bool(logging.FieldAlert, true),
						logging.String(logging.FieldAssetID, asset.ID),
						logging.String(logging.FieldAccountID, asset.OwnerID),
					)...)
			} else {
				s.logger.Error("failed to purge asset",
					logging.Args(logging.String(logging.FieldAssetID, asset.ID), logging.Error(err))...)
				continue
			}
		}
		s.removeObject(ctx, asset)
		settled++
		s.logger.Info("asset purged",
			logging.Args(
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String(logging.FieldAccountID, asset.OwnerID),
				logging.Int64("size_bytes", asset.SizeBytes),
			)...)
		if err := s.notifier.AssetPurged(ctx, asset.ID, asset.OwnerID); err != nil {
			s.logger.Warn("asset purged notification failed", logging.Args(logging.Error(err))...)
		}
	}
	return settled
}

// removeObject deletes the stored object unless another asset row still
// references the same content-addressed key. The retired asset's own row is
// not counted, so an expired tombstone left in the trash does not pin the
// bytes. A missing object is fine; a previous pass may have removed it
// already.
func (s *Sweeper) removeObject(ctx context.Context, asset *store.Asset) {
	referenced, err := s.store.StorageKeyReferenced(ctx, asset.StorageKey, asset.ID)
	if err != nil {
		s.logger.Warn("storage key reference check failed",
			logging.Args(logging.String(logging.FieldAssetID, asset.ID), logging.Error(err))...)
		return
	}
	if referenced {
		return
	}
	if err := s.blobs.Remove(asset.StorageKey); err != nil {
		s.logger.Warn("object removal failed",
			logging.Args(
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String("storage_key", asset.StorageKey),
				logging.Error(err),
			)...)
	}
}
