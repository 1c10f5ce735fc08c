package store

import (
	"strings"
	"time"
)

// Visibility controls who may resolve an asset without a share token.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility converts a string into a known Visibility.
func ParseVisibility(value string) (Visibility, bool) {
	normalized := Visibility(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case VisibilityPublic, VisibilityPrivate:
		return normalized, true
	}
	return "", false
}

// Lifecycle represents the forward-only asset lifecycle. A purged asset has
// no row at all, so only the two stored states appear here.
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "active"
	LifecycleTrashed Lifecycle = "trashed"
)

// Asset represents one stored audio object persisted in SQLite.
type Asset struct {
	ID             string
	OwnerID        string
	ContainerID    string
	Title          string
	StorageKey     string
	SizeBytes      int64
	Digest         string
	MimeType       string
	Visibility     Visibility
	Lifecycle      Lifecycle
	TrashedAt      *time.Time
	ExpiresAt      *time.Time
	ShareToken     string
	PasswordHash   string
	DerivedFrom    string
	ViewCount      int64
	DownloadCount  int64
	LedgerReleased bool
	MetadataJSON   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the asset's expiration timestamp has passed.
// Assets with no expiration never expire.
func (a *Asset) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Servable reports whether any access path may serve the asset: it must be
// active and not lazily expired.
func (a *Asset) Servable(now time.Time) bool {
	return a.Lifecycle == LifecycleActive && !a.Expired(now)
}

// Container is a caller-owned grouping of assets.
type Container struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
}

// JobStatus represents the lifecycle of a transcode job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobDead      JobStatus = "dead"
)

var jobStatusSet = map[JobStatus]struct{}{
	JobQueued:    {},
	JobRunning:   {},
	JobSucceeded: {},
	JobDead:      {},
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// Terminal reports whether a job status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobDead
}

// TranscodeJob represents one unit of derived-artifact work.
type TranscodeJob struct {
	ID            int64
	AssetID       string
	TargetFormat  string
	TargetBitrate string
	Status        JobStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LeaseExpires  *time.Time
	ResultAssetID string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UsageType distinguishes the metered bandwidth ledgers.
type UsageType string

const (
	UsageDownload UsageType = "download"
	UsageStream   UsageType = "stream"
)

// Period returns the bandwidth billing period identifier for a point in time.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// JobStats is a count of jobs grouped by status.
type JobStats struct {
	Queued    int
	Running   int
	Succeeded int
	Dead      int
}

// Total returns the sum across all job states.
func (s JobStats) Total() int {
	return s.Queued + s.Running + s.Succeeded + s.Dead
}
