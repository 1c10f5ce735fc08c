package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"soundcrate/internal/config"
)

const userAgent = "soundcrate/0.1.0"

// Event is the JSON payload delivered to the webhook sink.
type Event struct {
	Event     string    `json:"event"`
	AssetID   string    `json:"asset_id,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	JobID     int64     `json:"job_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Service defines the notification surface exposed to engine components.
// Delivery is best-effort: implementations return errors for logging only
// and callers must never fail the triggering operation on one.
type Service interface {
	AssetCreated(ctx context.Context, assetID, ownerID, title string, sizeBytes int64) error
	AssetEncoded(ctx context.Context, assetID, ownerID, title string, jobID int64) error
	AssetPurged(ctx context.Context, assetID, ownerID string) error
	JobDead(ctx context.Context, jobID int64, assetID, cause string) error
	Test(ctx context.Context) error
}

// NewService builds a webhook-backed notification service when a sink URL is
// configured. When none is, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	url := strings.TrimSpace(cfg.Webhook.URL)
	if url == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Webhook.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint: url,
		client:   &http.Client{Timeout: timeout},
		created:  cfg.Webhook.Created,
		encoded:  cfg.Webhook.Encoded,
		purged:   cfg.Webhook.Purged,
		errors:   cfg.Webhook.Errors,
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
	created  bool
	encoded  bool
	purged   bool
	errors   bool
}

func (w *webhookService) AssetCreated(ctx context.Context, assetID, ownerID, title string, sizeBytes int64) error {
	if !w.created {
		return nil
	}
	return w.send(ctx, Event{
		Event:     "asset.created",
		AssetID:   assetID,
		OwnerID:   ownerID,
		Title:     title,
		SizeBytes: sizeBytes,
	})
}

func (w *webhookService) AssetEncoded(ctx context.Context, assetID, ownerID, title string, jobID int64) error {
	if !w.encoded {
		return nil
	}
	return w.send(ctx, Event{
		Event:   "asset.encoded",
		AssetID: assetID,
		OwnerID: ownerID,
		Title:   title,
		JobID:   jobID,
	})
}

func (w *webhookService) AssetPurged(ctx context.Context, assetID, ownerID string) error {
	if !w.purged {
		return nil
	}
	return w.send(ctx, Event{
		Event:   "asset.purged",
		AssetID: assetID,
		OwnerID: ownerID,
	})
}

func (w *webhookService) JobDead(ctx context.Context, jobID int64, assetID, cause string) error {
	if !w.errors {
		return nil
	}
	return w.send(ctx, Event{
		Event:   "job.dead",
		AssetID: assetID,
		JobID:   jobID,
		Detail:  cause,
	})
}

func (w *webhookService) Test(ctx context.Context) error {
	return w.send(ctx, Event{Event: "test", Detail: "webhook connectivity test"})
}

func (w *webhookService) send(ctx context.Context, event Event) error {
	if w == nil || w.client == nil {
		return nil
	}
	event.Timestamp = time.Now().UTC()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) AssetCreated(context.Context, string, string, string, int64) error { return nil }
func (noopService) AssetEncoded(context.Context, string, string, string, int64) error { return nil }
func (noopService) AssetPurged(context.Context, string, string) error                 { return nil }
func (noopService) JobDead(context.Context, int64, string, string) error              { return nil }
func (noopService) Test(context.Context) error                                        { return nil }

// NewNop returns a Service that drops every event. Used in tests.
func NewNop() Service { return noopService{} }
