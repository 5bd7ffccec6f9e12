// Package objectstore abstracts durable object storage. Job-graph templates
// and input-schema documents are read from it; produced artifacts are
// uploaded to it and served by public URL.
package objectstore

import (
	"context"
	"errors"
)

// ErrObjectNotFound indicates the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

type Store interface {
	// GetText returns the UTF-8 content of the object at key, or
	// ErrObjectNotFound.
	GetText(ctx context.Context, key string) (string, error)

	// Upload stores body under key and returns a public URL for it.
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// IsObjectNotFound checks if an error indicates a missing object.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
