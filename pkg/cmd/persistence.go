// Package cmd holds construction helpers shared by the binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/promptgate/promptgate/pkg/persistence"
	"github.com/promptgate/promptgate/pkg/persistence/file"
	"github.com/promptgate/promptgate/pkg/persistence/postgresql"
)

// NewPersistence picks the persistence backend from the URL scheme.
// postgres://... gets PostgreSQL, anything else is treated as a file root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
