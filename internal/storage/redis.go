package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "roomwatch/pkg/logx"
)

type redisStore struct {
	client *redis.Client
	ns     string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	var opts *redis.Options
	if strings.Contains(dsn, "://") {
		o, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, err
		}
		opts = o
	} else {
		opts = &redis.Options{Addr: dsn}
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Debug("redis store opened", logx.String("addr", opts.Addr), logx.Int("db", opts.DB))
	return &redisStore{client: client, ns: cfg.Namespace, log: log}, nil
}

func dialTimeout(cfg Config) time.Duration {
	if cfg.DialTimeout > 0 {
		return cfg.DialTimeout
	}
	return 5 * time.Second
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.ns+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.client.Set(ctx, s.ns+key, value, 0).Err()
}

func (s *redisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := validKey(prefix); err != nil {
		return 0, err
	}
	match := escapeGlob(s.ns+prefix) + "*"
	total := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, err
			}
			total += int(n)
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

func (s *redisStore) Close() error { return s.client.Close() }

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
