package api

import (
	"encoding/json"

	"soundcrate/internal/store"
)

// FromAsset converts a stored asset to its API representation.
func FromAsset(asset *store.Asset) Asset {
	if asset == nil {
		return Asset{}
	}

	dto := Asset{
		ID:            asset.ID,
		OwnerID:       asset.OwnerID,
		ContainerID:   asset.ContainerID,
		Title:         asset.Title,
		SizeBytes:     asset.SizeBytes,
		Digest:        asset.Digest,
		MimeType:      asset.MimeType,
		Visibility:    string(asset.Visibility),
		Lifecycle:     string(asset.Lifecycle),
		Protected:     asset.PasswordHash != "",
		ShareToken:    asset.ShareToken,
		DerivedFrom:   asset.DerivedFrom,
		ViewCount:     asset.ViewCount,
		DownloadCount: asset.DownloadCount,
	}
	if asset.TrashedAt != nil {
		dto.TrashedAt = asset.TrashedAt.UTC().Format(dateTimeFormat)
	}
	if asset.ExpiresAt != nil {
		dto.ExpiresAt = asset.ExpiresAt.UTC().Format(dateTimeFormat)
	}
	if !asset.CreatedAt.IsZero() {
		dto.CreatedAt = asset.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !asset.UpdatedAt.IsZero() {
		dto.UpdatedAt = asset.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if raw := asset.MetadataJSON; raw != "" {
		dto.Metadata = json.RawMessage(raw)
	}
	return dto
}

// FromAssets converts a slice of stored assets into API DTOs.
func FromAssets(assets []*store.Asset) []Asset {
	if len(assets) == 0 {
		return nil
	}
	out := make([]Asset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, FromAsset(asset))
	}
	return out
}

// FromJob converts a transcode job record to its API representation.
func FromJob(job *store.TranscodeJob) TranscodeJob {
	if job == nil {
		return TranscodeJob{}
	}

	dto := TranscodeJob{
		ID:            job.ID,
		AssetID:       job.AssetID,
		TargetFormat:  job.TargetFormat,
		TargetBitrate: job.TargetBitrate,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		ResultAssetID: job.ResultAssetID,
		ErrorMessage:  job.ErrorMessage,
	}
	if !job.NextAttemptAt.IsZero() {
		dto.NextAttemptAt = job.NextAttemptAt.UTC().Format(dateTimeFormat)
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*store.TranscodeJob) []TranscodeJob {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]TranscodeJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// JobCounts flattens job stats into the status-keyed map used by the status
// endpoint.
func JobCounts(stats store.JobStats) map[string]int {
	return map[string]int{
		string(store.JobQueued):    stats.Queued,
		string(store.JobRunning):   stats.Running,
		string(store.JobSucceeded): stats.Succeeded,
		string(store.JobDead):      stats.Dead,
	}
}
