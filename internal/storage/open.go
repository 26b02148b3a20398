package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "roomwatch/pkg/logx"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
type Config struct {
	Driver string
	// Path is the file prefix (file) or database file (sqlite).
	Path string
	// DSN is the connection string (postgres) or address URL (redis).
	DSN string
	// Namespace prefixes every key in shared backends (redis, postgres).
	Namespace   string
	BusyTimeout time.Duration // sqlite only
	DialTimeout time.Duration // redis and postgres
}

// Store is the minimal key/value API used by the subscriber store.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// DeletePrefix removes every key starting with prefix and reports how many went.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Open initializes the configured store. An empty driver means "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("storage: empty key")
	}
	return nil
}
