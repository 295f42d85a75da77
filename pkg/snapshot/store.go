package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/willibrandon/ChronoState/pkg/config"
)

// Store persists snapshots keyed by session and step.
type Store interface {
	// Put stores a snapshot, replacing any previous one for the same step.
	Put(ctx context.Context, snap Snapshot) error

	// Get returns the snapshot for a step, or ErrNotFound.
	Get(ctx context.Context, session string, step uint64) (Snapshot, error)

	// Steps lists the stored steps of a session in ascending order.
	Steps(ctx context.Context, session string) ([]uint64, error)

	// Sessions lists stored sessions in lexical order.
	Sessions(ctx context.Context) ([]string, error)

	// Delete removes a session and all its steps.
	Delete(ctx context.Context, session string) error

	Close() error
}

func validateSession(session string) error {
	if strings.TrimSpace(session) == "" {
		return fmt.Errorf("snapshot: session is required")
	}
	if strings.ContainsAny(session, `/\:`) || strings.Contains(session, "..") {
		return fmt.Errorf("snapshot: invalid session name %q", session)
	}
	return nil
}

// Open creates the store selected by cfg.
func Open(cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path, FileOptions{
			IntegrityKey:  []byte(cfg.HMACKey),
			EncryptionKey: []byte(cfg.EncryptionKey),
		})
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		return NewRedisStore(&RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("snapshot: unknown backend %q", cfg.Backend)
	}
}
