package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const assetColumns = "id, owner_id, container_id, title, storage_key, size_bytes, digest, mime_type, visibility, lifecycle, trashed_at, expires_at, share_token, password_hash, derived_from, view_count, download_count, ledger_released, metadata_json, created_at, updated_at"

// CreateAssetCharged persists a new asset and charges its bytes against the
// owner's storage ledger in one transaction. Either both happen or neither:
// a refused reservation rolls the insert back and returns ErrQuotaExceeded.
func (s *Store) CreateAssetCharged(ctx context.Context, asset *Asset, limitBytes int64) error {
	if asset == nil {
		return errors.New("asset is nil")
	}
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now
	if asset.Visibility == "" {
		asset.Visibility = VisibilityPrivate
	}
	asset.Lifecycle = LifecycleActive

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := reserveStorage(ctx, tx, asset.OwnerID, asset.SizeBytes, limitBytes); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assets (
                id, owner_id, container_id, title, storage_key, size_bytes,
                digest, mime_type, visibility, lifecycle, expires_at,
                derived_from, metadata_json, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			asset.ID,
			asset.OwnerID,
			nullableString(asset.ContainerID),
			asset.Title,
			asset.StorageKey,
			asset.SizeBytes,
			asset.Digest,
			asset.MimeType,
			string(asset.Visibility),
			string(asset.Lifecycle),
			nullableTime(asset.ExpiresAt),
			nullableString(asset.DerivedFrom),
			nullableString(asset.MetadataJSON),
			formatTime(asset.CreatedAt),
			formatTime(asset.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		return nil
	})
}

// GetAsset fetches an asset by identifier. Returns nil when absent.
func (s *Store) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// GetAssetByShareToken fetches an asset by its share token. Returns nil when
// no asset carries the token.
func (s *Store) GetAssetByShareToken(ctx context.Context, token string) (*Asset, error) {
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+assetColumns+` FROM assets WHERE share_token = ?`, token)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset by token: %w", err)
	}
	return asset, nil
}

// FindDuplicate returns the first active asset for an owner with matching
// content digest and byte length. Trashed assets never count as duplicates.
func (s *Store) FindDuplicate(ctx context.Context, ownerID, digest string, sizeBytes int64) (*Asset, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+assetColumns+` FROM assets
         WHERE owner_id = ? AND digest = ? AND size_bytes = ? AND lifecycle = ?
         ORDER BY created_at LIMIT 1`,
		ownerID, digest, sizeBytes, string(LifecycleActive))
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate: %w", err)
	}
	return asset, nil
}

// ListAssetsByOwner returns an owner's assets, optionally including trashed
// ones, ordered by creation time.
func (s *Store) ListAssetsByOwner(ctx context.Context, ownerID string, includeTrashed bool) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE owner_id = ?`
	args := []any{ownerID}
	if !includeTrashed {
		query += ` AND lifecycle = ?`
		args = append(args, string(LifecycleActive))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// UpdateAssetTitle renames an asset.
func (s *Store) UpdateAssetTitle(ctx context.Context, id, title string) error {
	return s.touchUpdate(ctx, `UPDATE assets SET title = ?, updated_at = ? WHERE id = ?`, title, id)
}

// UpdateAssetVisibility switches an asset between public and private.
func (s *Store) UpdateAssetVisibility(ctx context.Context, id string, visibility Visibility) error {
	return s.touchUpdate(ctx, `UPDATE assets SET visibility = ?, updated_at = ? WHERE id = ?`, string(visibility), id)
}

// UpdateAssetPasswordHash sets or clears the access password hash.
func (s *Store) UpdateAssetPasswordHash(ctx context.Context, id, hash string) error {
	return s.touchUpdate(ctx, `UPDATE assets SET password_hash = ?, updated_at = ? WHERE id = ?`, nullableString(hash), id)
}

// UpdateAssetExpiration sets or clears the expiration timestamp.
func (s *Store) UpdateAssetExpiration(ctx context.Context, id string, expiresAt *time.Time) error {
	return s.touchUpdate(ctx, `UPDATE assets SET expires_at = ?, updated_at = ? WHERE id = ?`, nullableTime(expiresAt), id)
}

func (s *Store) touchUpdate(ctx context.Context, query string, value any, id string) error {
	_, err := s.execWithRetry(ensureContext(ctx), query, value, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}

// EnsureShareToken installs candidate as the asset's share token only when no
// token exists yet, then returns whichever token the asset ended up with.
// Issuance is idempotent: links already distributed stay valid.
func (s *Store) EnsureShareToken(ctx context.Context, id, candidate string) (string, error) {
	ctx = ensureContext(ctx)
	if _, err := s.execWithRetry(ctx,
		`UPDATE assets SET share_token = ?, updated_at = ?
         WHERE id = ? AND share_token IS NULL`,
		candidate, formatTime(time.Now()), id,
	); err != nil {
		return "", fmt.Errorf("ensure share token: %w", err)
	}

	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT share_token FROM assets WHERE id = ?`, id).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("asset not found")
	}
	if err != nil {
		return "", fmt.Errorf("read share token: %w", err)
	}
	return token.String, nil
}

// RevokeShareToken removes an asset's share token.
func (s *Store) RevokeShareToken(ctx context.Context, id string) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE assets SET share_token = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("revoke share token: %w", err)
	}
	return nil
}

// TrashAsset soft-deletes an active asset. Reports whether the transition
// happened; storage remains charged until the asset is purged.
func (s *Store) TrashAsset(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE assets SET lifecycle = ?, trashed_at = ?, updated_at = ?
         WHERE id = ? AND lifecycle = ?`,
		string(LifecycleTrashed), formatTime(now), formatTime(now), id, string(LifecycleActive),
	)
	if err != nil {
		return false, fmt.Errorf("trash asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("trash asset rows: %w", err)
	}
	return affected > 0, nil
}

// RestoreAsset returns a trashed asset to active. Restoration is refused
// once the ledger has been released (the underlying bytes are gone).
func (s *Store) RestoreAsset(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE assets SET lifecycle = ?, trashed_at = NULL, updated_at = ?
         WHERE id = ? AND lifecycle = ? AND ledger_released = 0`,
		string(LifecycleActive), formatTime(time.Now()), id, string(LifecycleTrashed),
	)
	if err != nil {
		return false, fmt.Errorf("restore asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restore asset rows: %w", err)
	}
	return affected > 0, nil
}

// TrashAssetReleasing marks an asset trashed and releases its storage charge
// in one transaction. The ledger_released flag is claimed by a conditional
// update so a concurrent sweep or user delete can never release twice.
// Returns whether this call performed the release; ErrLedgerUnderflow is
// reported without undoing the state transition.
func (s *Store) TrashAssetReleasing(ctx context.Context, asset *Asset) (bool, error) {
	if asset == nil {
		return false, errors.New("asset is nil")
	}
	var released bool
	var underflow error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed, err := claimLedgerRelease(ctx, tx, asset.ID)
		if err != nil {
			return err
		}
		if claimed {
			if err := releaseStorage(ctx, tx, asset.OwnerID, asset.SizeBytes); err != nil {
				if !errors.Is(err, ErrLedgerUnderflow) {
					return err
				}
				underflow = err
			}
			released = true
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET lifecycle = ?, trashed_at = COALESCE(trashed_at, ?), updated_at = ? WHERE id = ?`,
			string(LifecycleTrashed), formatTime(now), formatTime(now), asset.ID,
		); err != nil {
			return fmt.Errorf("mark trashed: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, underflow
}

// PurgeAssetReleasing hard-deletes an asset record, releasing its storage
// charge first when no earlier path already has. Returns whether this call
// performed the release.
func (s *Store) PurgeAssetReleasing(ctx context.Context, asset *Asset) (bool, error) {
	if asset == nil {
		return false, errors.New("asset is nil")
	}
	var released bool
	var underflow error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed, err := claimLedgerRelease(ctx, tx, asset.ID)
		if err != nil {
			return err
		}
		if claimed {
			if err := releaseStorage(ctx, tx, asset.OwnerID, asset.SizeBytes); err != nil {
				if !errors.Is(err, ErrLedgerUnderflow) {
					return err
				}
				underflow = err
			}
			released = true
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, asset.ID); err != nil {
			return fmt.Errorf("delete asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, underflow
}

func claimLedgerRelease(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE assets SET ledger_released = 1 WHERE id = ? AND ledger_released = 0`, id)
	if err != nil {
		return false, fmt.Errorf("claim ledger release: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim ledger release rows: %w", err)
	}
	return affected > 0, nil
}

// IncrementViewCount bumps the asset's view counter.
func (s *Store) IncrementViewCount(ctx context.Context, id string) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE assets SET view_count = view_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment view count: %w", err)
	}
	return nil
}

// IncrementDownloadCount bumps the asset's download counter.
func (s *Store) IncrementDownloadCount(ctx context.Context, id string) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE assets SET download_count = download_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment download count: %w", err)
	}
	return nil
}

// StorageKeyReferenced reports whether an asset row other than excludingID
// still points at the given storage key. Objects are content addressed and may
// be shared, so callers check this before removing one from disk; excluding the
// asset being retired lets its own tombstone row stay behind without pinning
// the object.
func (s *Store) StorageKeyReferenced(ctx context.Context, storageKey, excludingID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(*) FROM assets WHERE storage_key = ? AND id != ?`, storageKey, excludingID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count storage key references: %w", err)
	}
	return count > 0, nil
}

// ListExpiredActive returns active assets whose expiration timestamp has
// passed, oldest expiration first.
func (s *Store) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+assetColumns+` FROM assets
         WHERE lifecycle = ? AND expires_at IS NOT NULL AND expires_at < ?
         ORDER BY expires_at LIMIT ?`,
		string(LifecycleActive), formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// ListTrashedBefore returns assets trashed before the cutoff, oldest first.
func (s *Store) ListTrashedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+assetColumns+` FROM assets
         WHERE lifecycle = ? AND trashed_at IS NOT NULL AND trashed_at < ?
         ORDER BY trashed_at LIMIT ?`,
		string(LifecycleTrashed), formatTime(cutoff), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list trashed: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*Asset, error) {
	var (
		id             string
		ownerID        string
		containerID    sql.NullString
		title          string
		storageKey     string
		sizeBytes      int64
		digest         string
		mimeType       string
		visibility     string
		lifecycle      string
		trashedRaw     sql.NullString
		expiresRaw     sql.NullString
		shareToken     sql.NullString
		passwordHash   sql.NullString
		derivedFrom    sql.NullString
		viewCount      int64
		downloadCount  int64
		ledgerReleased sql.NullInt64
		metadata       sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&containerID,
		&title,
		&storageKey,
		&sizeBytes,
		&digest,
		&mimeType,
		&visibility,
		&lifecycle,
		&trashedRaw,
		&expiresRaw,
		&shareToken,
		&passwordHash,
		&derivedFrom,
		&viewCount,
		&downloadCount,
		&ledgerReleased,
		&metadata,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	asset := &Asset{
		ID:            id,
		OwnerID:       ownerID,
		ContainerID:   containerID.String,
		Title:         title,
		StorageKey:    storageKey,
		SizeBytes:     sizeBytes,
		Digest:        digest,
		MimeType:      mimeType,
		Visibility:    Visibility(visibility),
		Lifecycle:     Lifecycle(lifecycle),
		ShareToken:    shareToken.String,
		PasswordHash:  passwordHash.String,
		DerivedFrom:   derivedFrom.String,
		ViewCount:     viewCount,
		DownloadCount: downloadCount,
		MetadataJSON:  metadata.String,
	}
	if ledgerReleased.Valid {
		asset.LedgerReleased = ledgerReleased.Int64 != 0
	}
	if trashedRaw.Valid {
		if trashed, err := parseTimeString(trashedRaw.String); err == nil {
			asset.TrashedAt = &trashed
		}
	}
	if expiresRaw.Valid {
		if expires, err := parseTimeString(expiresRaw.String); err == nil {
			asset.ExpiresAt = &expires
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		asset.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		asset.UpdatedAt = updated
	}
	return asset, nil
}
