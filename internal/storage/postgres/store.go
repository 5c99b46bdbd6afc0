// Package postgres provides the Postgres-backed store.Store implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/madara-crawler/internal/storage/sqlbuild"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the slice of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements store.Store against Postgres.
type Store struct {
	pool    querier
	dialect sqlbuild.Dialect
}

var _ store.Store = (*Store)(nil)

// NewPool opens a pgx pool using cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewStore wraps an open pool.
func NewStore(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, dialect: sqlbuild.Postgres}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Insert adds a row and returns its id.
func (s *Store) Insert(ctx context.Context, entity store.Entity, fields store.Fields) (int64, error) {
	query, args, err := s.dialect.Insert(entity, fields)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, translate("insert "+string(entity), err)
	}
	return id, nil
}

// Update changes matching rows and reports how many were affected.
func (s *Store) Update(ctx context.Context, entity store.Entity, fields store.Fields, match store.Match) (int64, error) {
	query, args, err := s.dialect.Update(entity, fields, match)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, translate("update "+string(entity), err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes matching rows.
func (s *Store) Delete(ctx context.Context, entity store.Entity, match store.Match) (int64, error) {
	query, args, err := s.dialect.Delete(entity, match)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, translate("delete "+string(entity), err)
	}
	return tag.RowsAffected(), nil
}

// GetOne returns the first matching row by id.
func (s *Store) GetOne(ctx context.Context, entity store.Entity, match store.Match) (store.Row, error) {
	rows, err := s.GetMany(ctx, entity, store.Query{Match: match, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

// GetMany returns ordered, windowed rows.
func (s *Store) GetMany(ctx context.Context, entity store.Entity, q store.Query) ([]store.Row, error) {
	query, args, err := s.dialect.Select(entity, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate("select "+string(entity), err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate("scan "+string(entity), err)
	}
	out := make([]store.Row, len(maps))
	for i, m := range maps {
		out[i] = store.Row(m)
	}
	return out, nil
}

// Count returns the number of matching rows.
func (s *Store) Count(ctx context.Context, entity store.Entity, match store.Match) (int64, error) {
	query, args, err := s.dialect.Count(entity, match)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, translate("count "+string(entity), err)
	}
	return n, nil
}

func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
