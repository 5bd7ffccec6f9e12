package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config carries the connection settings for an S3-compatible store.
// Tencent COS, AWS S3 and MinIO all speak this dialect.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string

	// PublicBaseURL overrides the URL uploaded objects are served from,
	// typically a CDN domain. Empty means the bucket endpoint itself.
	PublicBaseURL string
}

// S3Store implements Store against any S3-compatible object storage.
type S3Store struct {
	client *minio.Client
	config S3Config
}

// NewS3Store creates an S3 store from the given configuration.
func NewS3Store(config S3Config) (*S3Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &S3Store{client: client, config: config}, nil
}

func (s *S3Store) key(key string) string {
	if s.config.Prefix == "" {
		return key
	}

	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + key
}

func (s *S3Store) GetText(ctx context.Context, key string) (string, error) {
	object, err := s.client.GetObject(ctx, s.config.Bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get object %s: %w", key, err)
	}

	defer func() {
		_ = object.Close()
	}()

	data, err := io.ReadAll(object)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}

		return "", fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return string(data), nil
}

func (s *S3Store) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	fullKey := s.key(key)

	_, err := s.client.PutObject(ctx, s.config.Bucket, fullKey,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	if s.config.PublicBaseURL != "" {
		return strings.TrimSuffix(s.config.PublicBaseURL, "/") + "/" + fullKey, nil
	}

	return "https://" + s.config.Endpoint + "/" + s.config.Bucket + "/" + fullKey, nil
}
