package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"soundcrate/internal/logging"
	"soundcrate/internal/services"
	"soundcrate/internal/services/ffmpeg"
	"soundcrate/internal/store"
)

// mimeForFormat maps output formats to the MIME type recorded on the
// derived asset.
var mimeForFormat = map[string]string{
	"mp3":  "audio/mpeg",
	"opus": "audio/opus",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
}

// process runs one claimed job to completion. Returned errors are settled by
// the caller; nil means the job finished and its result is recorded.
func (m *Manager) process(ctx context.Context, logger *slog.Logger, job *store.TranscodeJob) error {
	ctx = services.WithJobID(services.WithAssetID(ctx, job.AssetID), job.ID)

	source, err := m.store.GetAsset(ctx, job.AssetID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "process", "look up source asset", err)
	}
	if source == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "process", "source asset no longer exists", nil)
	}
	if source.Lifecycle != store.LifecycleActive {
		return services.Wrap(services.ErrValidation, "pipeline", "process", "source asset is trashed", nil)
	}

	inputPath := m.blobs.Path(source.StorageKey)
	if !m.blobs.Exists(source.StorageKey) {
		return services.Wrap(services.ErrNotFound, "pipeline", "process", "source object missing from storage", nil)
	}

	outputPath := filepath.Join(m.cfg.Paths.StagingDir,
		fmt.Sprintf("job-%d-%s.%s", job.ID, uuid.NewString()[:8], job.TargetFormat))
	defer os.Remove(outputPath)

	logger.Info("transcode started",
		logging.Args(
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldAssetID, source.ID),
			logging.String("format", job.TargetFormat),
			logging.String("bitrate", job.TargetBitrate),
			logging.Int("attempt", job.Attempts),
		)...)

	runCtx := ctx
	if m.cfg.Transcode.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Transcode.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	params := ffmpeg.Params{Format: job.TargetFormat}
	if bitrate, err := parseBitrate(job.TargetBitrate); err == nil {
		params.Bitrate = bitrate
	}
	if err := m.encoder.Transcode(runCtx, inputPath, outputPath, params); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	derived, err := m.storeDerived(ctx, source, job, outputPath)
	if err != nil {
		return err
	}

	if err := m.store.CompleteJob(ctx, job.ID, derived.ID); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "process", "record job completion", err)
	}

	logger.Info("transcode completed",
		logging.Args(
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldAssetID, source.ID),
			logging.String("result_asset_id", derived.ID),
			logging.Int64("size_bytes", derived.SizeBytes),
		)...)

	if err := m.notifier.AssetEncoded(ctx, derived.ID, derived.OwnerID, derived.Title, job.ID); err != nil {
		logger.Warn("asset encoded notification failed", logging.Args(logging.Error(err))...)
	}
	return nil
}

// storeDerived streams the encoder output into blob storage and records the
// derived asset with a fresh quota charge. Output identical to an existing
// asset of the owner reuses that asset instead of charging again.
func (m *Manager) storeDerived(ctx context.Context, source *store.Asset, job *store.TranscodeJob, outputPath string) (*store.Asset, error) {
	f, err := os.Open(outputPath)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "open encoder output", err)
	}
	defer f.Close()

	b, err := m.blobs.NewBlob()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "create staging blob", err)
	}
	defer b.Discard()

	size, err := io.Copy(b, f)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "stage encoder output", err)
	}
	if size == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "pipeline", "store", "encoder produced empty output", nil)
	}
	digest := b.Digest()

	if existing, err := m.store.FindDuplicate(ctx, source.OwnerID, digest, size); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "look up duplicate", err)
	} else if existing != nil {
		return existing, nil
	}

	limits, err := m.limits.LimitsFor(ctx, source.OwnerID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "resolve account limits", err)
	}

	if err := b.Commit(digest); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "commit blob", err)
	}

	now := time.Now().UTC()
	derived := &store.Asset{
		ID:          uuid.NewString(),
		OwnerID:     source.OwnerID,
		ContainerID: source.ContainerID,
		Title:       fmt.Sprintf("%s (%s)", source.Title, job.TargetFormat),
		StorageKey:  digest,
		SizeBytes:   size,
		Digest:      digest,
		MimeType:    mimeForFormat[job.TargetFormat],
		Visibility:  source.Visibility,
		Lifecycle:   store.LifecycleActive,
		ExpiresAt:   source.ExpiresAt,
		DerivedFrom: source.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.CreateAssetCharged(ctx, derived, limits.StorageBytes); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			return nil, services.Wrap(services.ErrQuotaExceeded, "pipeline", "store",
				"storage quota exceeded for derived asset", err)
		}
		return nil, services.Wrap(services.ErrTransient, "pipeline", "store", "create derived asset", err)
	}
	return derived, nil
}

func parseBitrate(value string) (int, error) {
	var bitrate int
	_, err := fmt.Sscanf(value, "%d", &bitrate)
	return bitrate, err
}
