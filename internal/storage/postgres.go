package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "roomwatch/pkg/logx"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS roomwatch_kv (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type postgresStore struct {
	pool *pgxpool.Pool
	ns   string
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.DialTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(cctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return &postgresStore{pool: pool, ns: cfg.Namespace, log: log}, nil
}

func (s *postgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM roomwatch_kv WHERE key = $1`, s.ns+key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *postgresStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO roomwatch_kv(key, value, updated_at) VALUES($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.ns+key, value,
	)
	return err
}

func (s *postgresStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := validKey(prefix); err != nil {
		return 0, err
	}
	p := s.ns + prefix
	tag, err := s.pool.Exec(ctx, `DELETE FROM roomwatch_kv WHERE left(key, $1) = $2`, len([]rune(p)), p)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
