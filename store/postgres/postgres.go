package postgres

import (
	"context"
	_ "embed"
	"time"

	"csms/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joomcode/errorx"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL implementation of store.Store
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func Connect(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errorx.Decorate(err, "invalid database url")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errorx.Decorate(err, "failed to connect to database")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errorx.Decorate(err, "failed to ping database")
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return errorx.Decorate(err, "failed to acquire connection")
	}
	defer conn.Release()

	// multi statement script, needs the simple protocol
	if _, err := conn.Conn().PgConn().Exec(ctx, schema).ReadAll(); err != nil {
		return errorx.Decorate(err, "failed to apply schema")
	}
	return nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
