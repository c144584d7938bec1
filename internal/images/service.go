// Package images accepts public image uploads and serves them back by id.
package images

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agitracker/api/internal/store"
)

const (
	// MaxSize is the largest accepted upload in bytes.
	MaxSize = 10 << 20

	// PathPrefix is the public path images are served under.
	PathPrefix = "/api/images/"

	// CacheControl is sent with every served image. Image ids are never reused.
	CacheControl = "public, max-age=31536000, immutable"
)

// AllowedTypes are the accepted content types, matched against the sniffed
// content rather than the client supplied header.
var AllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/svg+xml"}

var (
	ErrEmpty           = errors.New("no file provided")
	ErrTooLarge        = errors.New("file too large (max 10MB)")
	ErrUnsupportedType = errors.New("invalid file type")
	ErrNotFound        = errors.New("image not found")
)

type Store interface {
	InsertImage(ctx context.Context, image store.Image) error
	GetImage(ctx context.Context, id string) (store.Image, error)
}

// Blobs stores image bytes outside the database.
type Blobs interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type Service struct {
	store Store
	blobs Blobs
	newID func() string
}

// NewService stores bytes in blobs when it is non-nil, otherwise inline in the images table.
func NewService(st Store, blobs Blobs) *Service {
	return &Service{store: st, blobs: blobs, newID: uuid.NewString}
}

// Uploaded is the result of a successful upload.
type Uploaded struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	ID       string `json:"id"`
}

// URL returns the public path of an image id.
func URL(id string) string {
	return PathPrefix + id
}

// Upload reads at most MaxSize bytes from r, checks the sniffed type and stores the image.
func (s *Service) Upload(ctx context.Context, r io.Reader) (Uploaded, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return Uploaded{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Uploaded{}, ErrEmpty
	}
	if len(data) > MaxSize {
		return Uploaded{}, ErrTooLarge
	}

	contentType, ext, ok := detect(data)
	if !ok {
		return Uploaded{}, ErrUnsupportedType
	}

	id := s.newID()
	image := store.Image{
		ID:          id,
		Filename:    s.newID() + ext,
		ContentType: contentType,
		Size:        len(data),
	}
	if s.blobs != nil {
		image.ObjectKey = objectKey(id, image.Filename)
		if err := s.blobs.Put(ctx, image.ObjectKey, contentType, data); err != nil {
			return Uploaded{}, err
		}
	} else {
		image.Data = data
	}

	if err := s.store.InsertImage(ctx, image); err != nil {
		return Uploaded{}, err
	}
	zerolog.Ctx(ctx).Info().Str("image_id", id).Str("content_type", contentType).Int("size", len(data)).Msg("images: stored upload")
	return Uploaded{URL: URL(id), Filename: image.Filename, ID: id}, nil
}

// Get returns an image with its bytes loaded.
func (s *Service) Get(ctx context.Context, id string) (store.Image, error) {
	if _, err := uuid.Parse(id); err != nil {
		return store.Image{}, ErrNotFound
	}
	image, err := s.store.GetImage(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Image{}, ErrNotFound
	}
	if err != nil {
		return store.Image{}, fmt.Errorf("load image %s: %w", id, err)
	}
	if image.ObjectKey != "" && image.Data == nil {
		if s.blobs == nil {
			return store.Image{}, fmt.Errorf("image %s is in object storage, which is not configured", id)
		}
		data, err := s.blobs.Get(ctx, image.ObjectKey)
		if err != nil {
			return store.Image{}, err
		}
		image.Data = data
	}
	return image, nil
}

func objectKey(id, filename string) string {
	return fmt.Sprintf("%s/%s", id, filename)
}

func detect(data []byte) (contentType, ext string, ok bool) {
	mtype := mimetype.Detect(data)
	for _, allowed := range AllowedTypes {
		if mtype.Is(allowed) {
			return allowed, mtype.Extension(), true
		}
	}
	return "", "", false
}
