// Package sqlite provides a single-file store.Store for small deployments, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/madara-crawler/internal/storage/sqlbuild"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store implements store.Store on a database/sql handle.
type Store struct {
	db      *sql.DB
	dialect sqlbuild.Dialect
}

var _ store.Store = (*Store)(nil)

// Open connects to path (":memory:" for a throwaway database) and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: sqlbuild.SQLite}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert adds a row and returns its rowid.
func (s *Store) Insert(ctx context.Context, entity store.Entity, fields store.Fields) (int64, error) {
	query, args, err := s.dialect.Insert(entity, fields)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate("insert "+string(entity), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: last insert id: %w", entity, err)
	}
	return id, nil
}

// Update changes matching rows.
func (s *Store) Update(ctx context.Context, entity store.Entity, fields store.Fields, match store.Match) (int64, error) {
	query, args, err := s.dialect.Update(entity, fields, match)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "update "+string(entity), query, args)
}

// Delete removes matching rows.
func (s *Store) Delete(ctx context.Context, entity store.Entity, match store.Match) (int64, error) {
	query, args, err := s.dialect.Delete(entity, match)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "delete "+string(entity), query, args)
}

func (s *Store) exec(ctx context.Context, op, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n, nil
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
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("select "+string(entity), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select %s: columns: %w", entity, err)
	}
	out := make([]store.Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select %s: scan: %w", entity, err)
		}
		row := make(store.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", entity, err)
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
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, translate("count "+string(entity), err)
	}
	return n, nil
}

func translate(op string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
