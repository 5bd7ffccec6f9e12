package cmd

import (
	"os"
	"strings"

	"github.com/promptgate/promptgate/pkg/objectstore"
)

// NewObjectStore picks the object store from the URL. s3://bucket[/prefix]
// uses the S3-compatible endpoint from the environment; anything else is a
// local directory root.
func NewObjectStore(storeURL string) objectstore.Store {
	if strings.HasPrefix(storeURL, "s3://") {
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(storeURL, "s3://"), "/")

		store, err := objectstore.NewS3Store(objectstore.S3Config{
			Endpoint:      os.Getenv("S3_ENDPOINT"),
			AccessKey:     os.Getenv("S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("S3_SECRET_KEY"),
			Bucket:        bucket,
			Prefix:        prefix,
			PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		})
		if err != nil {
			panic(err)
		}

		return store
	}

	return objectstore.NewFSStore(storeURL)
}
