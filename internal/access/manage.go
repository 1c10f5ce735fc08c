package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"soundcrate/internal/logging"
	"soundcrate/internal/services"
	"soundcrate/internal/store"
)

const maxTitleLength = 512

// Rename updates the asset title.
func (b *Broker) Rename(ctx context.Context, callerID, assetID, title string) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return services.Wrap(services.ErrValidation, "access", "rename", "title required", nil)
	}
	if len(title) > maxTitleLength {
		return services.Wrap(services.ErrValidation, "access", "rename",
			fmt.Sprintf("title exceeds %d characters", maxTitleLength), nil)
	}
	if err := b.store.UpdateAssetTitle(ctx, asset.ID, title); err != nil {
		return services.Wrap(services.ErrTransient, "access", "rename", "update title", err)
	}
	return nil
}

// SetVisibility switches the asset between public and private.
func (b *Broker) SetVisibility(ctx context.Context, callerID, assetID string, visibility store.Visibility) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	if err := b.store.UpdateAssetVisibility(ctx, asset.ID, visibility); err != nil {
		return services.Wrap(services.ErrTransient, "access", "visibility", "update visibility", err)
	}
	return nil
}

// SetPassword protects the asset with a password, or clears protection when
// the password is empty. Stored hashes are bcrypt; the plaintext is never
// persisted.
func (b *Broker) SetPassword(ctx context.Context, callerID, assetID, password string) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	hash := ""
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return services.Wrap(services.ErrTransient, "access", "password", "hash password", err)
		}
		hash = string(hashed)
	}
	if err := b.store.UpdateAssetPasswordHash(ctx, asset.ID, hash); err != nil {
		return services.Wrap(services.ErrTransient, "access", "password", "update password", err)
	}
	return nil
}

// SetExpiration schedules the asset to lapse at the given time, or clears the
// schedule when expiresAt is nil. Times in the past are rejected.
func (b *Broker) SetExpiration(ctx context.Context, callerID, assetID string, expiresAt *time.Time) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	if expiresAt != nil && expiresAt.Before(time.Now().UTC()) {
		return services.Wrap(services.ErrValidation, "access", "expiration", "expiration must be in the future", nil)
	}
	if err := b.store.UpdateAssetExpiration(ctx, asset.ID, expiresAt); err != nil {
		return services.Wrap(services.ErrTransient, "access", "expiration", "update expiration", err)
	}
	return nil
}

// Trash moves an active asset into the trash. The stored object and the
// quota charge are kept so the asset stays restorable until the retention
// window closes.
func (b *Broker) Trash(ctx context.Context, callerID, assetID string) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	moved, err := b.store.TrashAsset(ctx, asset.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "access", "trash", "move asset to trash", err)
	}
	if !moved {
		return services.Wrap(services.ErrValidation, "access", "trash", "asset is already in the trash", nil)
	}
	b.logger.InfoContext(ctx, "asset trashed",
		logging.Args(logging.String(logging.FieldAssetID, asset.ID))...)
	return nil
}

// Restore returns a trashed asset to active. Assets whose quota charge was
// already released no longer have a stored object and cannot come back.
func (b *Broker) Restore(ctx context.Context, callerID, assetID string) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	restored, err := b.store.RestoreAsset(ctx, asset.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "access", "restore", "restore asset", err)
	}
	if !restored {
		if asset.LedgerReleased {
			return services.Wrap(services.ErrValidation, "access", "restore",
				"asset content has been reclaimed and cannot be restored", nil)
		}
		return services.Wrap(services.ErrValidation, "access", "restore", "asset is not in the trash", nil)
	}
	b.logger.InfoContext(ctx, "asset restored",
		logging.Args(logging.String(logging.FieldAssetID, asset.ID))...)
	return nil
}

// Delete removes the asset immediately: the row goes away, the storage
// charge is released, and the object is removed when no other asset still
// references it.
func (b *Broker) Delete(ctx context.Context, callerID, assetID string) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	// The bool reports whether this call released the quota charge; the row
	// is removed either way. A charge already released by an earlier sweep
	// is not released again.
	_, err = b.store.PurgeAssetReleasing(ctx, asset)
	if err != nil && !errors.Is(err, store.ErrLedgerUnderflow) {
		return services.Wrap(services.ErrTransient, "access", "delete", "purge asset", err)
	}
	if errors.Is(err, store.ErrLedgerUnderflow) {
		b.logger.WarnContext(ctx, "ledger underflow during delete; floored to zero",
			logging.Args(
				logging.Bool(logging.FieldAlert, true),
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String(logging.FieldAccountID, asset.OwnerID),
			)...)
	}
	b.removeObjectIfUnreferenced(ctx, asset)
	b.logger.InfoContext(ctx, "asset deleted",
		logging.Args(
			logging.String(logging.FieldAssetID, asset.ID),
			logging.Int64("size_bytes", asset.SizeBytes),
		)...)
	return nil
}

// removeObjectIfUnreferenced deletes the stored object unless an asset row
// other than the one being retired still points at the same key. Objects are
// content addressed, so two assets with the same digest share one object on
// disk.
func (b *Broker) removeObjectIfUnreferenced(ctx context.Context, asset *store.Asset) {
	referenced, err := b.store.StorageKeyReferenced(ctx, asset.StorageKey, asset.ID)
	if err != nil {
		b.logger.WarnContext(ctx, "storage key reference check failed",
			logging.Args(logging.String(logging.FieldAssetID, asset.ID), logging.Error(err))...)
		return
	}
	if referenced {
		return
	}
	if err := b.blobs.Remove(asset.StorageKey); err != nil {
		b.logger.WarnContext(ctx, "object removal failed",
			logging.Args(
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String("storage_key", asset.StorageKey),
				logging.Error(err),
			)...)
	}
}
