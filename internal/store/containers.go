package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateContainer inserts a new asset container.
func (s *Store) CreateContainer(ctx context.Context, container *Container) error {
	if container == nil {
		return errors.New("container is nil")
	}
	container.CreatedAt = time.Now().UTC()
	_, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO containers (id, owner_id, title, created_at) VALUES (?, ?, ?, ?)`,
		container.ID, container.OwnerID, container.Title, formatTime(container.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

// GetContainer fetches a container by identifier. Returns nil when absent.
func (s *Store) GetContainer(ctx context.Context, id string) (*Container, error) {
	var (
		container  Container
		createdRaw string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, owner_id, title, created_at FROM containers WHERE id = ?`, id,
	).Scan(&container.ID, &container.OwnerID, &container.Title, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get container: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		container.CreatedAt = created
	}
	return &container, nil
}
