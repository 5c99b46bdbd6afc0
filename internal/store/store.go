package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// Entity names a persisted record kind.
type Entity string

// Persisted entities.
const (
	Sources     Entity = "sources"
	Collections Entity = "collections"
	Units       Entity = "units"
	Queue       Entity = "queue"
	Logs        Entity = "logs"
	Errors      Entity = "errors"
	Settings    Entity = "settings"
)

// Entities lists every entity in schema order.
var Entities = []Entity{Sources, Collections, Units, Queue, Logs, Errors, Settings}

var (
	// ErrNotFound is returned by GetOne when nothing matches.
	ErrNotFound = crawler.ErrNotFound
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = crawler.ErrConflict
)

// Fields are column values for inserts and updates.
type Fields map[string]any

// Match is an AND-conjunction of column equalities. A nil value matches NULL.
type Match map[string]any

// Row is one record keyed by column name.
type Row map[string]any

// Order sorts a GetMany result.
type Order struct {
	Column string
	Desc   bool
}

// Query selects many rows.
type Query struct {
	Match  Match
	Order  []Order
	Limit  int
	Offset int
}

// Store is the generic persistence contract.
type Store interface {
	Insert(ctx context.Context, entity Entity, fields Fields) (int64, error)
	Update(ctx context.Context, entity Entity, fields Fields, match Match) (int64, error)
	Delete(ctx context.Context, entity Entity, match Match) (int64, error)
	GetOne(ctx context.Context, entity Entity, match Match) (Row, error)
	GetMany(ctx context.Context, entity Entity, q Query) ([]Row, error)
	Count(ctx context.Context, entity Entity, match Match) (int64, error)
	Close() error
}

// Constraint declares a unique key. Where restricts it to matching rows (a partial index).
type Constraint struct {
	Entity  Entity
	Columns []string
	Where   Match
}

// Constraints mirrors the unique indexes created by the SQL migrations.
func Constraints() []Constraint {
	return []Constraint{
		{Entity: Sources, Columns: []string{"url"}},
		{Entity: Collections, Columns: []string{"source_id", "native_id"}},
		{Entity: Units, Columns: []string{"collection_id", "native_id"}},
		{Entity: Queue, Columns: []string{"kind", "native_id", "source_id"}, Where: Match{"status": string(crawler.StatusPending)}},
		{Entity: Settings, Columns: []string{"name"}},
	}
}

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether name is safe to splice into SQL.
func ValidIdentifier(name string) bool {
	return validIdentifier.MatchString(name)
}

// CheckColumns validates every key of m.
func CheckColumns[M ~map[string]any](m M) error {
	for k := range m {
		if !ValidIdentifier(k) {
			return fmt.Errorf("invalid column name %q", k)
		}
	}
	return nil
}

// SortedKeys returns the keys of m in lexical order so generated SQL is stable.
func SortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
