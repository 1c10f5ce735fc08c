package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soundcrate/internal/api"
	"soundcrate/internal/ingest"
	"soundcrate/internal/services"
	"soundcrate/internal/store"
)

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	defer r.Body.Close()

	ctx := services.WithAccountID(r.Context(), owner)
	result, err := s.daemon.ingestor.Ingest(ctx, ingest.Request{
		OwnerID:      owner,
		ContainerID:  strings.TrimSpace(r.URL.Query().Get("container")),
		Title:        strings.TrimSpace(r.URL.Query().Get("title")),
		MimeType:     r.Header.Get("Content-Type"),
		DeclaredSize: r.ContentLength,
		Body:         r.Body,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Outcome == ingest.OutcomeDuplicate {
		status = http.StatusOK
	}
	s.writeJSON(w, status, api.AssetResponse{
		Asset:   api.FromAsset(result.Asset),
		Outcome: string(result.Outcome),
	})
}

func (s *apiServer) handleListAssets(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	includeTrashed := parseBoolParam(r.URL.Query().Get("trashed"))
	assets, err := s.daemon.store.ListAssetsByOwner(r.Context(), owner, includeTrashed)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetListResponse{Assets: api.FromAssets(assets)})
}

func (s *apiServer) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	asset, err := s.daemon.store.GetAsset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if asset == nil || asset.OwnerID != owner {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: api.FromAsset(asset)})
}

// updateAssetRequest carries the PATCH surface. Pointer fields distinguish
// absent from empty: an empty password clears protection and an empty
// expiresAt clears the schedule.
type updateAssetRequest struct {
	Title      *string `json:"title"`
	Visibility *string `json:"visibility"`
	Password   *string `json:"password"`
	ExpiresAt  *string `json:"expiresAt"`
}

func (s *apiServer) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	assetID := r.PathValue("id")

	var req updateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := services.WithAccountID(r.Context(), owner)
	broker := s.daemon.broker

	if req.Title != nil {
		if err := broker.Rename(ctx, owner, assetID, *req.Title); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	if req.Visibility != nil {
		visibility, ok := store.ParseVisibility(*req.Visibility)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "visibility must be public or private")
			return
		}
		if err := broker.SetVisibility(ctx, owner, assetID, visibility); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	if req.Password != nil {
		if err := broker.SetPassword(ctx, owner, assetID, *req.Password); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	if req.ExpiresAt != nil {
		var expiresAt *time.Time
		if trimmed := strings.TrimSpace(*req.ExpiresAt); trimmed != "" {
			parsed, err := time.Parse(time.RFC3339, trimmed)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "expiresAt must be RFC3339")
				return
			}
			utc := parsed.UTC()
			expiresAt = &utc
		}
		if err := broker.SetExpiration(ctx, owner, assetID, expiresAt); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	asset, err := s.daemon.store.GetAsset(ctx, assetID)
	if err != nil || asset == nil {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: api.FromAsset(asset)})
}

func (s *apiServer) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	ctx := services.WithAccountID(r.Context(), owner)
	assetID := r.PathValue("id")

	var err error
	if parseBoolParam(r.URL.Query().Get("permanent")) {
		err = s.daemon.broker.Delete(ctx, owner, assetID)
	} else {
		err = s.daemon.broker.Trash(ctx, owner, assetID)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *apiServer) handleRestoreAsset(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	ctx := services.WithAccountID(r.Context(), owner)
	assetID := r.PathValue("id")

	if err := s.daemon.broker.Restore(ctx, owner, assetID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	asset, err := s.daemon.store.GetAsset(ctx, assetID)
	if err != nil || asset == nil {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: api.FromAsset(asset)})
}

func (s *apiServer) handleShareAsset(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	ctx := services.WithAccountID(r.Context(), owner)

	link, err := s.daemon.broker.IssueShareLink(ctx, owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ShareLink{
		Token:    link.Token,
		URL:      link.URL,
		EmbedURL: link.EmbedURL,
	})
}

func (s *apiServer) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	ctx := services.WithAccountID(r.Context(), owner)

	if err := s.daemon.broker.RevokeShareLink(ctx, owner, r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

type transcodeRequest struct {
	Format  string `json:"format"`
	Bitrate int    `json:"bitrate"`
}

func (s *apiServer) handleTranscode(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}

	var req transcodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := services.WithAccountID(r.Context(), owner)
	job, err := s.daemon.pipeline.Enqueue(ctx, owner, r.PathValue("id"), req.Format, req.Bitrate)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []store.JobStatus
	for _, value := range r.URL.Query()["status"] {
		status, ok := store.ParseJobStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown job status "+value)
			return
		}
		statuses = append(statuses, status)
	}
	jobs, err := s.daemon.store.ListJobs(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	requeued, err := s.daemon.store.RetryDeadJob(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !requeued {
		s.writeError(w, http.StatusConflict, "only dead jobs can be retried")
		return
	}
	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil || job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	owner := callerAccount(r)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "account identity required")
		return
	}
	usage, err := s.daemon.broker.Usage(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	history := make([]api.BandwidthSlice, 0, len(usage.History))
	for _, entry := range usage.History {
		history = append(history, api.BandwidthSlice{
			Period:    entry.Period,
			UsageType: string(entry.UsageType),
			UsedBytes: entry.UsedBytes,
		})
	}
	s.writeJSON(w, http.StatusOK, api.Usage{
		AccountID:           usage.AccountID,
		StorageUsedBytes:    usage.StorageUsedBytes,
		StorageLimitBytes:   usage.StorageLimitBytes,
		BandwidthUsedBytes:  usage.BandwidthUsedBytes,
		BandwidthLimitBytes: usage.BandwidthLimitBytes,
		Period:              usage.Period,
		History:             history,
	})
}

func parseBoolParam(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
