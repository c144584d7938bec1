package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertImage(ctx context.Context, image Image) error {
	var data any
	if image.Data != nil {
		data = image.Data
	}
	var objectKey any
	if image.ObjectKey != "" {
		objectKey = image.ObjectKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (id, filename, content_type, size, data, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, image.ID, image.Filename, image.ContentType, image.Size, data, objectKey)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id string) (Image, error) {
	var (
		image     Image
		objectKey *string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, content_type, size, data, object_key, created_at
		FROM images WHERE id=$1
	`, id).Scan(&image.ID, &image.Filename, &image.ContentType, &image.Size, &image.Data, &objectKey, &image.CreatedAt)
	if err != nil {
		return Image{}, err
	}
	if objectKey != nil {
		image.ObjectKey = *objectKey
	}
	return image, nil
}

// CountImages returns how many of ids exist. Duplicate ids count once.
func (s *PostgresStore) CountImages(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE id = ANY($1)`, ids).Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}
