package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, asset_id, target_format, target_bitrate, status, attempts, max_attempts, next_attempt_at, lease_expires_at, result_asset_id, error_message, created_at, updated_at"

// EnqueueTranscode inserts a new queued transcode job.
func (s *Store) EnqueueTranscode(ctx context.Context, assetID, format, bitrate string, maxAttempts int) (*TranscodeJob, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := formatTime(now)

	res, err := s.execWithRetry(ctx,
		`INSERT INTO transcode_jobs (
            asset_id, target_format, target_bitrate, status, attempts,
            max_attempts, next_attempt_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		assetID, format, bitrate, string(JobQueued), maxAttempts, timestamp, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a transcode job by identifier. Returns nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically leases the oldest due queued job: it flips the job
// to running, bumps the attempt counter, and stamps the lease expiry, all in
// a single statement so exactly one worker wins a given job. Returns nil
// when nothing is due.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time, leaseTimeout time.Duration) (*TranscodeJob, error) {
	ctx = ensureContext(ctx)
	leaseExpiry := formatTime(now.Add(leaseTimeout))
	timestamp := formatTime(now)

	var job *TranscodeJob
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE transcode_jobs
             SET status = ?, attempts = attempts + 1, lease_expires_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM transcode_jobs
                 WHERE status = ? AND next_attempt_at <= ?
                 ORDER BY created_at LIMIT 1
             )
             RETURNING `+jobColumns,
			string(JobRunning), leaseExpiry, timestamp,
			string(JobQueued), timestamp,
		)
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a running job succeeded and records the derived asset.
func (s *Store) CompleteJob(ctx context.Context, id int64, resultAssetID string) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE transcode_jobs
         SET status = ?, result_asset_id = ?, lease_expires_at = NULL,
             error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(JobSucceeded), resultAssetID, formatTime(time.Now()), id, string(JobRunning),
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// RequeueJob returns a running job to queued after a transient failure,
// recording the error and the backoff-deferred next attempt time.
func (s *Store) RequeueJob(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE transcode_jobs
         SET status = ?, error_message = ?, next_attempt_at = ?,
             lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(JobQueued), errMsg, formatTime(nextAttemptAt), formatTime(time.Now()), id, string(JobRunning),
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// MarkJobDead retires a job permanently, recording the final error.
func (s *Store) MarkJobDead(ctx context.Context, id int64, errMsg string) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE transcode_jobs
         SET status = ?, error_message = ?, lease_expires_at = NULL, updated_at = ?
         WHERE id = ?`,
		string(JobDead), errMsg, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark job dead: %w", err)
	}
	return nil
}

// RetryDeadJob requeues a dead job with a fresh attempt budget. Reports
// whether the job was in fact dead.
func (s *Store) RetryDeadJob(ctx context.Context, id int64) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE transcode_jobs
         SET status = ?, attempts = 0, error_message = NULL,
             next_attempt_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(JobQueued), now, now, id, string(JobDead),
	)
	if err != nil {
		return false, fmt.Errorf("retry dead job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retry dead job rows: %w", err)
	}
	return affected > 0, nil
}

// ReclaimExpiredLeases returns running jobs with expired leases to queued so
// another worker can pick them up after a crash or stall.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE transcode_jobs
         SET status = ?, lease_expires_at = NULL, next_attempt_at = ?, updated_at = ?
         WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		string(JobQueued), formatTime(now), formatTime(now), string(JobRunning), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim leases: %w", err)
	}
	return res.RowsAffected()
}

// ListJobs returns jobs filtered by status set (or all jobs when no status
// is provided), newest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*TranscodeJob, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM transcode_jobs`
	orderClause := ` ORDER BY created_at DESC`

	ctx = ensureContext(ctx)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = string(status)
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*TranscodeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStatsSummary returns a count of jobs grouped by status.
func (s *Store) JobStatsSummary(ctx context.Context) (JobStats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM transcode_jobs GROUP BY status`)
	if err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats JobStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return JobStats{}, err
		}
		switch JobStatus(status) {
		case JobQueued:
			stats.Queued = count
		case JobRunning:
			stats.Running = count
		case JobSucceeded:
			stats.Succeeded = count
		case JobDead:
			stats.Dead = count
		}
	}
	return stats, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*TranscodeJob, error) {
	var (
		id            int64
		assetID       string
		targetFormat  string
		targetBitrate string
		statusStr     string
		attempts      int
		maxAttempts   int
		nextRaw       sql.NullString
		leaseRaw      sql.NullString
		resultAsset   sql.NullString
		errorMessage  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&assetID,
		&targetFormat,
		&targetBitrate,
		&statusStr,
		&attempts,
		&maxAttempts,
		&nextRaw,
		&leaseRaw,
		&resultAsset,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &TranscodeJob{
		ID:            id,
		AssetID:       assetID,
		TargetFormat:  targetFormat,
		TargetBitrate: targetBitrate,
		Status:        JobStatus(statusStr),
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		ResultAssetID: resultAsset.String,
		ErrorMessage:  errorMessage.String,
	}
	if next, err := parseTimeString(nextRaw.String); err == nil {
		job.NextAttemptAt = next
	}
	if leaseRaw.Valid {
		if lease, err := parseTimeString(leaseRaw.String); err == nil {
			job.LeaseExpires = &lease
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
