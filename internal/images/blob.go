package images

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioBlobs keeps image bytes in an S3 compatible bucket.
type MinioBlobs struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioBlobs(cfg MinioConfig) (*MinioBlobs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &MinioBlobs{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under key, creating the bucket on first use.
func (b *MinioBlobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	upload := func() error {
		_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  contentType,
			CacheControl: CacheControl,
		})
		return err
	}

	err := upload()
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create image bucket: %w", err)
		}
		err = upload()
	}
	if err != nil {
		return fmt.Errorf("upload image %s: %w", key, err)
	}
	return nil
}

func (b *MinioBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", key, err)
	}
	return data, nil
}
