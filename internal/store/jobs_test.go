package store_test

import (
	"context"
	"testing"
	"time"

	"soundcrate/internal/store"
	"soundcrate/internal/testsupport"
)

func TestClaimNextJobLeasesExactlyOne(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	job, err := st.EnqueueTranscode(ctx, asset.ID, "mp3", "128", 3)
	if err != nil {
		t.Fatalf("EnqueueTranscode failed: %v", err)
	}
	if job.Status != store.JobQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}

	now := time.Now().UTC()
	claimed, err := st.ClaimNextJob(ctx, now, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim job %d, got %#v", job.ID, claimed)
	}
	if claimed.Status != store.JobRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed job state: %#v", claimed)
	}

	// The lease hides the job from other claimants.
	second, err := st.ClaimNextJob(ctx, now, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no second claim, got job %d", second.ID)
	}
}

func TestClaimHonorsNextAttemptAt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	job, err := st.EnqueueTranscode(ctx, asset.ID, "opus", "0", 3)
	if err != nil {
		t.Fatalf("EnqueueTranscode failed: %v", err)
	}

	now := time.Now().UTC()
	claimed, err := st.ClaimNextJob(ctx, now, time.Hour)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: job=%v err=%v", claimed, err)
	}

	// Requeue with a future attempt time; it must stay invisible until then.
	backoffUntil := now.Add(time.Hour)
	if err := st.RequeueJob(ctx, job.ID, "encoder crashed", backoffUntil); err != nil {
		t.Fatalf("RequeueJob failed: %v", err)
	}
	claimed, err = st.ClaimNextJob(ctx, now, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Fatal("claimed a job before its backoff elapsed")
	}

	claimed, err = st.ClaimNextJob(ctx, backoffUntil.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil || claimed.Attempts != 2 {
		t.Fatalf("expected second attempt after backoff, got %#v", claimed)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	if _, err := st.EnqueueTranscode(ctx, asset.ID, "mp3", "128", 3); err != nil {
		t.Fatalf("EnqueueTranscode failed: %v", err)
	}

	now := time.Now().UTC()
	claimed, err := st.ClaimNextJob(ctx, now, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: job=%v err=%v", claimed, err)
	}

	// Before the lease expires nothing is reclaimed.
	reclaimed, err := st.ReclaimExpiredLeases(ctx, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed %d jobs with live leases", reclaimed)
	}

	reclaimed, err = st.ReclaimExpiredLeases(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}

	requeued, err := st.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if requeued.Status != store.JobQueued {
		t.Fatalf("expected reclaimed job queued, got %s", requeued.Status)
	}
}

func TestCompleteAndDeadTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	result := testsupport.NewAsset(t, st, "owner", 50)

	job, err := st.EnqueueTranscode(ctx, asset.ID, "mp3", "128", 3)
	if err != nil {
		t.Fatalf("EnqueueTranscode failed: %v", err)
	}
	claimed, err := st.ClaimNextJob(ctx, time.Now().UTC(), time.Hour)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: job=%v err=%v", claimed, err)
	}
	if err := st.CompleteJob(ctx, job.ID, result.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	done, _ := st.GetJob(ctx, job.ID)
	if done.Status != store.JobSucceeded || done.ResultAssetID != result.ID {
		t.Fatalf("unexpected completed job: %#v", done)
	}

	dead, err := st.EnqueueTranscode(ctx, asset.ID, "opus", "0", 1)
	if err != nil {
		t.Fatalf("EnqueueTranscode failed: %v", err)
	}
	if _, err := st.ClaimNextJob(ctx, time.Now().UTC(), time.Hour); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := st.MarkJobDead(ctx, dead.ID, "unsupported input"); err != nil {
		t.Fatalf("MarkJobDead failed: %v", err)
	}
	fetched, _ := st.GetJob(ctx, dead.ID)
	if fetched.Status != store.JobDead || fetched.ErrorMessage == "" {
		t.Fatalf("unexpected dead job: %#v", fetched)
	}

	// Operators can resurrect dead jobs with a fresh attempt budget.
	requeued, err := st.RetryDeadJob(ctx, dead.ID)
	if err != nil || !requeued {
		t.Fatalf("RetryDeadJob: requeued=%v err=%v", requeued, err)
	}
	fetched, _ = st.GetJob(ctx, dead.ID)
	if fetched.Status != store.JobQueued || fetched.Attempts != 0 {
		t.Fatalf("unexpected retried job: %#v", fetched)
	}

	// Succeeded jobs cannot be retried.
	requeued, err = st.RetryDeadJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryDeadJob failed: %v", err)
	}
	if requeued {
		t.Fatal("retried a succeeded job")
	}

	stats, err := st.JobStatsSummary(ctx)
	if err != nil {
		t.Fatalf("JobStatsSummary failed: %v", err)
	}
	if stats.Total() != 2 {
		t.Fatalf("expected 2 jobs in stats, got %d", stats.Total())
	}
}
