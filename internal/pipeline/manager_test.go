package pipeline_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"soundcrate/internal/accounts"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/logging"
	"soundcrate/internal/notify"
	"soundcrate/internal/pipeline"
	"soundcrate/internal/services"
	"soundcrate/internal/services/ffmpeg"
	"soundcrate/internal/store"
	"soundcrate/internal/testsupport"
)

// stubEncoder satisfies ffmpeg.Client without shelling out. When fail is nil
// it writes payload to the output path, which is what the pipeline stages and
// stores as the derived asset.
type stubEncoder struct {
	mu      sync.Mutex
	calls   int
	fail    error
	payload []byte
}

func (s *stubEncoder) Transcode(_ context.Context, _, outputPath string, _ ffmpeg.Params) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	return os.WriteFile(outputPath, s.payload, 0o644)
}

func (s *stubEncoder) Version(context.Context) (string, error) {
	return "stub 1.0", nil
}

func (s *stubEncoder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newManager(t *testing.T, cfg *config.Config, encoder ffmpeg.Client) (*pipeline.Manager, *store.Store, *blob.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobStore(t, cfg)
	limits := accounts.NewStaticProvider(cfg.Limits.StorageBytes, cfg.Limits.BandwidthBytesMonth)
	m := pipeline.NewManager(cfg, st, blobs, limits, encoder, notify.NewNop(), logging.NewNop())
	return m, st, blobs
}

// seedAsset stores content in the blob store and records a charged asset
// whose storage key matches the committed object.
func seedAsset(t *testing.T, st *store.Store, blobs *blob.Store, owner string, content []byte) *store.Asset {
	t.Helper()
	b, err := blobs.NewBlob()
	if err != nil {
		t.Fatalf("NewBlob failed: %v", err)
	}
	if _, err := b.Write(content); err != nil {
		t.Fatalf("blob write failed: %v", err)
	}
	digest := b.Digest()
	if err := b.Commit(digest); err != nil {
		t.Fatalf("blob commit failed: %v", err)
	}
	return testsupport.NewAsset(t, st, owner, int64(len(content)), func(a *store.Asset) {
		a.StorageKey = digest
		a.Digest = digest
	})
}

func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func jobInState(t *testing.T, st *store.Store, id int64, status store.JobStatus) func() bool {
	t.Helper()
	return func() bool {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		return job != nil && job.Status == status
	}
}

func TestTranscodeProducesDerivedAsset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	encoder := &stubEncoder{payload: []byte("encoded audio bytes")}
	m, st, blobs := newManager(t, cfg, encoder)
	ctx := context.Background()

	source := seedAsset(t, st, blobs, "owner", []byte("source audio bytes"))

	job, err := m.Enqueue(ctx, "owner", source.ID, "mp3", 128)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "job success", jobInState(t, st, job.ID, store.JobSucceeded))

	finished, _ := st.GetJob(ctx, job.ID)
	if finished.ResultAssetID == "" {
		t.Fatal("succeeded job has no result asset")
	}
	derived, err := st.GetAsset(ctx, finished.ResultAssetID)
	if err != nil || derived == nil {
		t.Fatalf("derived asset missing: %v", err)
	}
	if derived.DerivedFrom != source.ID {
		t.Fatalf("derived asset points at %q, want %q", derived.DerivedFrom, source.ID)
	}
	if derived.MimeType != "audio/mpeg" {
		t.Fatalf("unexpected mime type %q", derived.MimeType)
	}
	if !strings.Contains(derived.Title, "(mp3)") {
		t.Fatalf("derived title missing format marker: %q", derived.Title)
	}
	if derived.SizeBytes != int64(len(encoder.payload)) {
		t.Fatalf("derived size %d, want %d", derived.SizeBytes, len(encoder.payload))
	}
	if !blobs.Exists(derived.StorageKey) {
		t.Fatal("derived object missing from storage")
	}

	used, _ := st.StorageUsed(ctx, "owner")
	want := source.SizeBytes + derived.SizeBytes
	if used != want {
		t.Fatalf("ledger shows %d, want %d", used, want)
	}
}

func TestIdenticalOutputReusesExistingAsset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.Workers = 1
	encoder := &stubEncoder{payload: []byte("identical rendition")}
	m, st, blobs := newManager(t, cfg, encoder)
	ctx := context.Background()

	first := seedAsset(t, st, blobs, "owner", []byte("first source"))
	second := seedAsset(t, st, blobs, "owner", []byte("second source"))

	jobA, err := m.Enqueue(ctx, "owner", first.ID, "opus", 96)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	jobB, err := m.Enqueue(ctx, "owner", second.ID, "opus", 96)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "both jobs done", func() bool {
		a, _ := st.GetJob(ctx, jobA.ID)
		b, _ := st.GetJob(ctx, jobB.ID)
		return a.Status == store.JobSucceeded && b.Status == store.JobSucceeded
	})

	a, _ := st.GetJob(ctx, jobA.ID)
	b, _ := st.GetJob(ctx, jobB.ID)
	if a.ResultAssetID != b.ResultAssetID {
		t.Fatalf("identical outputs produced distinct assets: %s vs %s", a.ResultAssetID, b.ResultAssetID)
	}

	// One derived charge, not two.
	used, _ := st.StorageUsed(ctx, "owner")
	want := first.SizeBytes + second.SizeBytes + int64(len(encoder.payload))
	if used != want {
		t.Fatalf("ledger shows %d, want %d", used, want)
	}
}

func TestTerminalFailureGoesDeadOnFirstAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	encoder := &stubEncoder{fail: services.Wrap(services.ErrValidation, "ffmpeg", "transcode", "unsupported codec", nil)}
	m, st, blobs := newManager(t, cfg, encoder)
	ctx := context.Background()

	source := seedAsset(t, st, blobs, "owner", []byte("source"))
	job, err := m.Enqueue(ctx, "owner", source.ID, "mp3", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "job dead", jobInState(t, st, job.ID, store.JobDead))

	dead, _ := st.GetJob(ctx, job.ID)
	if dead.Attempts != 1 {
		t.Fatalf("terminal failure retried: %d attempts", dead.Attempts)
	}
	if dead.ErrorMessage == "" {
		t.Fatal("dead job carries no cause")
	}
}

func TestTransientFailureRequeuesWithBackoff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	encoder := &stubEncoder{fail: services.Wrap(services.ErrExternalTool, "ffmpeg", "transcode", "exit status 1", nil)}
	m, st, blobs := newManager(t, cfg, encoder)
	ctx := context.Background()

	source := seedAsset(t, st, blobs, "owner", []byte("source"))
	job, err := m.Enqueue(ctx, "owner", source.ID, "flac", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	before := time.Now().UTC()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "job requeued", func() bool {
		j, _ := st.GetJob(ctx, job.ID)
		return j.Status == store.JobQueued && j.Attempts == 1
	})

	requeued, _ := st.GetJob(ctx, job.ID)
	if !requeued.NextAttemptAt.After(before) {
		t.Fatalf("requeued job has no backoff: next attempt %v", requeued.NextAttemptAt)
	}
}

func TestAttemptCeilingSendsJobDead(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.MaxAttempts = 1
	encoder := &stubEncoder{fail: services.Wrap(services.ErrExternalTool, "ffmpeg", "transcode", "exit status 1", nil)}
	m, st, blobs := newManager(t, cfg, encoder)
	ctx := context.Background()

	source := seedAsset(t, st, blobs, "owner", []byte("source"))
	job, err := m.Enqueue(ctx, "owner", source.ID, "aac", 64)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "job dead", jobInState(t, st, job.ID, store.JobDead))
}

func TestMissingSourceObjectSendsJobDead(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	encoder := &stubEncoder{payload: []byte("never used")}
	m, st, _ := newManager(t, cfg, encoder)
	ctx := context.Background()

	// Asset row exists but nothing was ever stored under its key.
	source := testsupport.NewAsset(t, st, "owner", 64)
	job, err := m.Enqueue(ctx, "owner", source.ID, "mp3", 128)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "job dead", jobInState(t, st, job.ID, store.JobDead))
	if n := encoder.callCount(); n != 0 {
		t.Fatalf("encoder invoked %d times for a missing object", n)
	}
}

func TestDerivedQuotaExceededSendsJobDead(t *testing.T) {
	content := []byte("source audio bytes")
	cfg := testsupport.NewConfig(t, testsupport.WithStorageLimit(int64(len(content))))
	encoder := &stubEncoder{payload: []byte("rendition that will not fit")}
	m, st, blobs := newManager(t, cfg, encoder)
	ctx := context.Background()

	source := seedAsset(t, st, blobs, "owner", content)
	job, err := m.Enqueue(ctx, "owner", source.ID, "ogg", 192)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, "job dead", jobInState(t, st, job.ID, store.JobDead))

	used, _ := st.StorageUsed(ctx, "owner")
	if used != source.SizeBytes {
		t.Fatalf("refused derived asset still charged: ledger %d", used)
	}
}

func TestEnqueueValidatesRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	m, st, blobs := newManager(t, cfg, &stubEncoder{})
	ctx := context.Background()

	source := seedAsset(t, st, blobs, "owner", []byte("source"))

	if _, err := m.Enqueue(ctx, "owner", source.ID, "wav", 128); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unsupported format accepted: %v", err)
	}
	if _, err := m.Enqueue(ctx, "owner", source.ID, "mp3", 17); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unsupported bitrate accepted: %v", err)
	}
	if _, err := m.Enqueue(ctx, "intruder", source.ID, "mp3", 128); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("foreign caller accepted: %v", err)
	}

	if _, err := st.TrashAsset(ctx, source.ID); err != nil {
		t.Fatalf("TrashAsset failed: %v", err)
	}
	if _, err := m.Enqueue(ctx, "owner", source.ID, "mp3", 128); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("trashed source accepted: %v", err)
	}
}
