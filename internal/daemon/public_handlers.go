package daemon

import (
	"fmt"
	"net/http"
	"strings"

	"soundcrate/internal/access"
	"soundcrate/internal/api"
	"soundcrate/internal/logging"
	"soundcrate/internal/store"
)

// passwordHeader lets clients supply an asset password without putting it in
// the URL. The query parameter is a fallback for plain embed tags.
const passwordHeader = "X-Asset-Password"

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, r, store.UsageDownload)
}

func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, r, store.UsageStream)
}

func (s *apiServer) serveAsset(w http.ResponseWriter, r *http.Request, usage store.UsageType) {
	password := r.Header.Get(passwordHeader)
	if password == "" {
		password = r.URL.Query().Get("p")
	}

	decision, err := s.daemon.broker.Resolve(r.Context(), access.Request{
		Ref:      r.PathValue("ref"),
		CallerID: callerAccount(r),
		Password: password,
		Usage:    usage,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		s.writeDenial(w, decision.Reason)
		return
	}

	asset := decision.Asset
	f, err := s.daemon.blobs.Open(asset.StorageKey)
	if err != nil {
		s.log().Error("stored object missing for servable asset",
			logging.Args(
				logging.Bool(logging.FieldAlert, true),
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String("storage_key", asset.StorageKey),
				logging.Error(err),
			)...)
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", asset.MimeType)
	if usage == store.UsageDownload {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", downloadFilename(asset)))
	} else {
		w.Header().Set("Content-Disposition", "inline")
	}

	counter := &countingResponseWriter{ResponseWriter: w}
	http.ServeContent(counter, r, asset.Title, asset.UpdatedAt, f)

	// Metering settles after bytes move; aborted or ranged transfers charge
	// only what was written.
	s.daemon.broker.RecordServe(r.Context(), asset, usage, counter.written)
}

func (s *apiServer) writeDenial(w http.ResponseWriter, reason access.DenyReason) {
	switch reason {
	case access.DenyPasswordRequired:
		s.writeJSON(w, http.StatusUnauthorized, errorWithReason("password required", string(reason)))
	case access.DenyQuotaExceeded:
		s.writeJSON(w, http.StatusTooManyRequests, errorWithReason("bandwidth quota exceeded", string(reason)))
	case access.DenyForbidden:
		s.writeJSON(w, http.StatusForbidden, errorWithReason("access denied", string(reason)))
	default:
		s.writeJSON(w, http.StatusNotFound, errorWithReason("asset not found", string(access.DenyNotFound)))
	}
}

func downloadFilename(asset *store.Asset) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '/', '\n', '\r':
			return '_'
		}
		return r
	}, asset.Title)
	if name == "" {
		name = asset.ID
	}
	if ext := extensionForMime(asset.MimeType); ext != "" && !strings.HasSuffix(name, ext) {
		name += ext
	}
	return name
}

func extensionForMime(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "audio/mpeg":
		return ".mp3"
	case "audio/opus":
		return ".opus"
	case "audio/aac":
		return ".aac"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}

// countingResponseWriter tracks bytes written to the client so metering can
// charge the transferred amount rather than the asset size.
type countingResponseWriter struct {
	http.ResponseWriter
	written int64
}

func (c *countingResponseWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.written += int64(n)
	return n, err
}

func errorWithReason(message, reason string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Reason: reason}
}
