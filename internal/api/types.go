package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Asset describes a stored asset in a transport-friendly format. The
// password hash and storage key never leave the daemon.
type Asset struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"ownerId"`
	ContainerID   string          `json:"containerId,omitempty"`
	Title         string          `json:"title"`
	SizeBytes     int64           `json:"sizeBytes"`
	Digest        string          `json:"digest"`
	MimeType      string          `json:"mimeType"`
	Visibility    string          `json:"visibility"`
	Lifecycle     string          `json:"lifecycle"`
	Protected     bool            `json:"protected"`
	TrashedAt     string          `json:"trashedAt,omitempty"`
	ExpiresAt     string          `json:"expiresAt,omitempty"`
	ShareToken    string          `json:"shareToken,omitempty"`
	DerivedFrom   string          `json:"derivedFrom,omitempty"`
	ViewCount     int64           `json:"viewCount"`
	DownloadCount int64           `json:"downloadCount"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// TranscodeJob describes a transcode queue entry.
type TranscodeJob struct {
	ID            int64  `json:"id"`
	AssetID       string `json:"assetId"`
	TargetFormat  string `json:"targetFormat"`
	TargetBitrate string `json:"targetBitrate"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"maxAttempts"`
	NextAttemptAt string `json:"nextAttemptAt,omitempty"`
	ResultAssetID string `json:"resultAssetId,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

// ShareLink is the public address pair minted for a shared asset.
type ShareLink struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	EmbedURL string `json:"embedUrl"`
}

// Usage summarizes one account's ledger state.
type Usage struct {
	AccountID           string           `json:"accountId"`
	StorageUsedBytes    int64            `json:"storageUsedBytes"`
	StorageLimitBytes   int64            `json:"storageLimitBytes"`
	BandwidthUsedBytes  int64            `json:"bandwidthUsedBytes"`
	BandwidthLimitBytes int64            `json:"bandwidthLimitBytes"`
	Period              string           `json:"period"`
	History             []BandwidthSlice `json:"history,omitempty"`
}

// BandwidthSlice is one period/usage-type cell of the bandwidth ledger.
type BandwidthSlice struct {
	Period    string `json:"period"`
	UsageType string `json:"usageType"`
	UsedBytes int64  `json:"usedBytes"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DBPath       string         `json:"dbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Jobs         map[string]int `json:"jobs"`
}

// AssetListResponse wraps a collection of assets.
type AssetListResponse struct {
	Assets []Asset `json:"assets"`
}

// AssetResponse wraps a single asset.
type AssetResponse struct {
	Asset   Asset  `json:"asset"`
	Outcome string `json:"outcome,omitempty"`
}

// JobListResponse wraps a collection of transcode jobs.
type JobListResponse struct {
	Jobs []TranscodeJob `json:"jobs"`
}

// JobResponse wraps a single transcode job.
type JobResponse struct {
	Job TranscodeJob `json:"job"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
