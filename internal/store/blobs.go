package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PutBlob stores a named artifact and returns its id.
func (s *Store) PutBlob(ctx context.Context, name, mimeType string, data []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_blobs (id, name, mime_type, data, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		id, name, mimeType, data,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert blob: %w", err)
	}
	return id, nil
}

// BlobSink adapts the store to the exporter's sink interface.
type BlobSink struct {
	s *Store
}

func (s *Store) BlobSink() *BlobSink {
	return &BlobSink{s: s}
}

func (b *BlobSink) Persist(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	id, err := b.s.PutBlob(ctx, name, mimeType, data)
	if err != nil {
		return "", err
	}
	return "postgres:backup_blobs/" + id.String(), nil
}
