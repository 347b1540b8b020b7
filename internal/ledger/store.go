package ledger

import (
	"context"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
)

// Store persists the dedup key set across runs.
type Store interface {
	// Load returns the persisted key set, or an empty slice when absent.
	Load(ctx context.Context) ([]string, error)
	// Append persists keys accepted during this run.
	Append(ctx context.Context, keys []string) error
	// Reset drops the persisted key set.
	Reset(ctx context.Context) error
	Close() error
}

// OpenStore builds the configured store, or nil when persistence is disabled.
func OpenStore(cfg config.LedgerConfig) (Store, error) {
	switch cfg.Store {
	case "redis":
		return NewRedisStore(cfg.Redis), nil
	case "file":
		return NewFileStore(cfg.File), nil
	default:
		return nil, nil
	}
}
