// Package memory provides in-memory persistence and blob storage for development and tests.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/madara-crawler/internal/store"
)

// Store implements store.Store with per-entity row slices guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	rows        map[store.Entity][]store.Row
	nextID      map[store.Entity]int64
	constraints []store.Constraint
}

var _ store.Store = (*Store)(nil)

// NewStore creates an empty Store enforcing the schema's unique constraints.
func NewStore() *Store {
	return &Store{
		rows:        make(map[store.Entity][]store.Row),
		nextID:      make(map[store.Entity]int64),
		constraints: store.Constraints(),
	}
}

// Insert appends a row and returns its id.
func (s *Store) Insert(_ context.Context, entity store.Entity, fields store.Fields) (int64, error) {
	if err := store.CheckColumns(fields); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := store.Row{}
	for k, v := range fields {
		row[k] = normalize(v)
	}
	if err := s.checkUnique(entity, row, -1); err != nil {
		return 0, err
	}
	s.nextID[entity]++
	id := s.nextID[entity]
	row["id"] = id
	s.rows[entity] = append(s.rows[entity], row)
	return id, nil
}

// Update overwrites fields on every matching row.
func (s *Store) Update(_ context.Context, entity store.Entity, fields store.Fields, match store.Match) (int64, error) {
	if err := store.CheckColumns(fields); err != nil {
		return 0, err
	}
	if err := store.CheckColumns(match); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[entity]
	var count int64
	for i, row := range rows {
		if !matches(row, match) {
			continue
		}
		updated := cloneRow(row)
		for k, v := range fields {
			updated[k] = normalize(v)
		}
		if err := s.checkUnique(entity, updated, i); err != nil {
			return count, err
		}
		rows[i] = updated
		count++
	}
	return count, nil
}

// Delete removes every matching row.
func (s *Store) Delete(_ context.Context, entity store.Entity, match store.Match) (int64, error) {
	if err := store.CheckColumns(match); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[entity][:0]
	var count int64
	for _, row := range s.rows[entity] {
		if matches(row, match) {
			count++
			continue
		}
		kept = append(kept, row)
	}
	s.rows[entity] = kept
	return count, nil
}

// GetOne returns the first matching row in id order.
func (s *Store) GetOne(_ context.Context, entity store.Entity, match store.Match) (store.Row, error) {
	if err := store.CheckColumns(match); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows[entity] {
		if matches(row, match) {
			return cloneRow(row), nil
		}
	}
	return nil, store.ErrNotFound
}

// GetMany returns matching rows sorted, then windowed by offset and limit.
func (s *Store) GetMany(_ context.Context, entity store.Entity, q store.Query) ([]store.Row, error) {
	if err := store.CheckColumns(q.Match); err != nil {
		return nil, err
	}
	for _, o := range q.Order {
		if !store.ValidIdentifier(o.Column) {
			return nil, fmt.Errorf("invalid order column %q", o.Column)
		}
	}
	s.mu.RLock()
	out := make([]store.Row, 0)
	for _, row := range s.rows[entity] {
		if matches(row, q.Match) {
			out = append(out, cloneRow(row))
		}
	}
	s.mu.RUnlock()

	order := q.Order
	if len(order) == 0 {
		order = []store.Order{{Column: "id"}}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range order {
			c := compare(out[i][o.Column], out[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []store.Row{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of matching rows.
func (s *Store) Count(_ context.Context, entity store.Entity, match store.Match) (int64, error) {
	if err := store.CheckColumns(match); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, row := range s.rows[entity] {
		if matches(row, match) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) checkUnique(entity store.Entity, candidate store.Row, self int) error {
	for _, c := range s.constraints {
		if c.Entity != entity || !matches(candidate, c.Where) {
			continue
		}
		key := store.Match{}
		for _, col := range c.Columns {
			key[col] = candidate[col]
		}
		for i, row := range s.rows[entity] {
			if i == self || !matches(row, c.Where) {
				continue
			}
			if matches(row, key) {
				return fmt.Errorf("%s(%s): %w", entity, strings.Join(c.Columns, ","), store.ErrConflict)
			}
		}
	}
	return nil
}

func matches(row store.Row, match store.Match) bool {
	for k, want := range match {
		if compare(row[k], want) != 0 {
			return false
		}
	}
	return true
}

func cloneRow(row store.Row) store.Row {
	out := make(store.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case nil, int64, string, bool, float64, []byte:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

// compare orders values of the same dynamic type; NULL sorts first.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return cmpOrdered(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmpOrdered(boolInt(av), boolInt(bv))
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | int](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
