package memory

import (
	"context"
	"strings"

	"github.com/ent0n29/chloe/internal/conversation"
)

// NewStore picks a backend from the store URL: empty means in-memory,
// postgres:// or postgresql:// means Postgres, sqlite:// or a file path
// ending in .db means SQLite.
func NewStore(ctx context.Context, storeURL string) (conversation.Store, error) {
	storeURL = strings.TrimSpace(storeURL)
	switch {
	case storeURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(storeURL, "postgres://"), strings.HasPrefix(storeURL, "postgresql://"):
		return NewPostgresStore(ctx, storeURL)
	default:
		return NewSQLiteStore(strings.TrimPrefix(storeURL, "sqlite://"))
	}
}

// Mode names the backend a store URL resolves to.
func Mode(storeURL string) string {
	storeURL = strings.TrimSpace(storeURL)
	switch {
	case storeURL == "":
		return "in-memory"
	case strings.HasPrefix(storeURL, "postgres://"), strings.HasPrefix(storeURL, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}
