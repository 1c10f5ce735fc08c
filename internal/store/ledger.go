package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// dbtx is the subset of database operations shared by *sql.DB and *sql.Tx,
// letting ledger statements run standalone or inside a larger transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BandwidthEntry is one row of the bandwidth ledger.
type BandwidthEntry struct {
	Period    string
	UsageType UsageType
	UsedBytes int64
}

func ensureLedgerRow(ctx context.Context, q dbtx, accountID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO quota_ledger (account_id, used_bytes) VALUES (?, 0)`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("ensure ledger row: %w", err)
	}
	return nil
}

// reserveStorage commits a storage reservation as a single conditional
// UPDATE. Concurrent reservations race on the same row; the loser sees zero
// affected rows and observes ErrQuotaExceeded.
func reserveStorage(ctx context.Context, q dbtx, accountID string, deltaBytes, limitBytes int64) error {
	if deltaBytes < 0 {
		return fmt.Errorf("reserve storage: negative delta %d", deltaBytes)
	}
	if err := ensureLedgerRow(ctx, q, accountID); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE quota_ledger SET used_bytes = used_bytes + ?
         WHERE account_id = ? AND used_bytes + ? <= ?`,
		deltaBytes, accountID, deltaBytes, limitBytes,
	)
	if err != nil {
		return fmt.Errorf("reserve storage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve storage rows: %w", err)
	}
	if affected == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// releaseStorage decrements the storage counter. A release larger than the
// reserved total floors the counter at zero and reports ErrLedgerUnderflow,
// which callers must log loudly: it means charge and release drifted apart.
func releaseStorage(ctx context.Context, q dbtx, accountID string, deltaBytes int64) error {
	if deltaBytes < 0 {
		return fmt.Errorf("release storage: negative delta %d", deltaBytes)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE quota_ledger SET used_bytes = used_bytes - ?
         WHERE account_id = ? AND used_bytes >= ?`,
		deltaBytes, accountID, deltaBytes,
	)
	if err != nil {
		return fmt.Errorf("release storage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release storage rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE quota_ledger SET used_bytes = 0 WHERE account_id = ?`,
		accountID,
	); err != nil {
		return fmt.Errorf("floor ledger: %w", err)
	}
	return fmt.Errorf("%w: account %s, delta %d", ErrLedgerUnderflow, accountID, deltaBytes)
}

// ReserveStorage atomically reserves deltaBytes of storage for an account,
// refusing with ErrQuotaExceeded when the reservation would pass limitBytes.
func (s *Store) ReserveStorage(ctx context.Context, accountID string, deltaBytes, limitBytes int64) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return reserveStorage(ctx, s.db, accountID, deltaBytes, limitBytes)
	})
}

// ReleaseStorage atomically returns deltaBytes of storage to an account.
func (s *Store) ReleaseStorage(ctx context.Context, accountID string, deltaBytes int64) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return releaseStorage(ctx, s.db, accountID, deltaBytes)
	})
}

// StorageUsed returns the bytes of storage currently charged to an account.
func (s *Store) StorageUsed(ctx context.Context, accountID string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT used_bytes FROM quota_ledger WHERE account_id = ?`, accountID,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage used: %w", err)
	}
	return used, nil
}

// MeterBandwidth records transferred bytes against the account's period
// counter and returns the new running total. Recording happens after the
// transfer, so it always succeeds; callers compare the total against the
// limit to decide whether the next request is refused. Period rollover
// starts a fresh row and leaves prior periods untouched.
func (s *Store) MeterBandwidth(ctx context.Context, accountID string, usage UsageType, period string, deltaBytes int64) (int64, error) {
	if deltaBytes < 0 {
		return 0, fmt.Errorf("meter bandwidth: negative delta %d", deltaBytes)
	}
	ctx = ensureContext(ctx)
	var total int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO bandwidth_ledger (account_id, period, usage_type, used_bytes)
             VALUES (?, ?, ?, ?)
             ON CONFLICT(account_id, period, usage_type)
             DO UPDATE SET used_bytes = used_bytes + excluded.used_bytes
             RETURNING used_bytes`,
			accountID, period, string(usage), deltaBytes,
		).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("meter bandwidth: %w", err)
	}
	return total, nil
}

// BandwidthUsed returns the bytes metered for one (account, period, usage).
func (s *Store) BandwidthUsed(ctx context.Context, accountID string, usage UsageType, period string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT used_bytes FROM bandwidth_ledger
         WHERE account_id = ? AND period = ? AND usage_type = ?`,
		accountID, period, string(usage),
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bandwidth used: %w", err)
	}
	return used, nil
}

// BandwidthPeriodTotal returns combined download and stream bytes for a period.
func (s *Store) BandwidthPeriodTotal(ctx context.Context, accountID, period string) (int64, error) {
	var used sql.NullInt64
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT SUM(used_bytes) FROM bandwidth_ledger
         WHERE account_id = ? AND period = ?`,
		accountID, period,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("bandwidth period total: %w", err)
	}
	return used.Int64, nil
}

// BandwidthHistory lists all bandwidth ledger rows for an account, most
// recent period first.
func (s *Store) BandwidthHistory(ctx context.Context, accountID string) ([]BandwidthEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT period, usage_type, used_bytes FROM bandwidth_ledger
         WHERE account_id = ? ORDER BY period DESC, usage_type`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("bandwidth history: %w", err)
	}
	defer rows.Close()

	var entries []BandwidthEntry
	for rows.Next() {
		var entry BandwidthEntry
		var usage string
		if err := rows.Scan(&entry.Period, &usage, &entry.UsedBytes); err != nil {
			return nil, err
		}
		entry.UsageType = UsageType(usage)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
