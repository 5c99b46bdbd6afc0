// Package sqlbuild renders store.Store calls into parameterized SQL for the relational backends.
package sqlbuild

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/madara-crawler/internal/store"
)

// Dialect captures the placeholder and paging differences between engines.
type Dialect struct {
	Name string
	// Numbered selects $1-style placeholders instead of ?.
	Numbered bool
	// Returning appends RETURNING id to inserts.
	Returning bool
}

var (
	// Postgres renders $N placeholders and RETURNING id.
	Postgres = Dialect{Name: "postgres", Numbered: true, Returning: true}
	// SQLite renders ? placeholders; ids come from LastInsertId.
	SQLite = Dialect{Name: "sqlite"}
)

// Table returns the physical table name for entity.
func (d Dialect) Table(entity store.Entity) (string, error) {
	name := string(entity)
	if !store.ValidIdentifier(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

type args struct {
	d    Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	if a.d.Numbered {
		return "$" + strconv.Itoa(len(a.vals))
	}
	return "?"
}

// Insert renders an INSERT for fields.
func (d Dialect) Insert(entity store.Entity, fields store.Fields) (string, []any, error) {
	table, err := d.Table(entity)
	if err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("insert %s: no fields", entity)
	}
	if err := store.CheckColumns(fields); err != nil {
		return "", nil, err
	}
	a := &args{d: d}
	cols := store.SortedKeys(fields)
	marks := make([]string, len(cols))
	for i, c := range cols {
		marks[i] = a.add(fields[c])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if d.Returning {
		query += " RETURNING id"
	}
	return query, a.vals, nil
}

// Update renders an UPDATE of fields on rows matching match.
func (d Dialect) Update(entity store.Entity, fields store.Fields, match store.Match) (string, []any, error) {
	table, err := d.Table(entity)
	if err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("update %s: no fields", entity)
	}
	if err := store.CheckColumns(fields); err != nil {
		return "", nil, err
	}
	a := &args{d: d}
	cols := store.SortedKeys(fields)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = " + a.add(fields[c])
	}
	where, err := a.where(match)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where), a.vals, nil
}

// Delete renders a DELETE of rows matching match.
func (d Dialect) Delete(entity store.Entity, match store.Match) (string, []any, error) {
	table, err := d.Table(entity)
	if err != nil {
		return "", nil, err
	}
	a := &args{d: d}
	where, err := a.where(match)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s", table, where), a.vals, nil
}

// Select renders a SELECT * with ordering and paging.
func (d Dialect) Select(entity store.Entity, q store.Query) (string, []any, error) {
	table, err := d.Table(entity)
	if err != nil {
		return "", nil, err
	}
	a := &args{d: d}
	where, err := a.where(q.Match)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s%s", table, where)

	order := q.Order
	if len(order) == 0 {
		order = []store.Order{{Column: "id"}}
	}
	parts := make([]string, len(order))
	for i, o := range order {
		if !store.ValidIdentifier(o.Column) {
			return "", nil, fmt.Errorf("invalid order column %q", o.Column)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts[i] = o.Column + " " + dir
	}
	b.WriteString(" ORDER BY " + strings.Join(parts, ", "))

	switch {
	case q.Limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	case q.Offset > 0 && !d.Numbered:
		b.WriteString(" LIMIT -1")
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.Offset)
	}
	return b.String(), a.vals, nil
}

// Count renders a COUNT(*) of rows matching match.
func (d Dialect) Count(entity store.Entity, match store.Match) (string, []any, error) {
	table, err := d.Table(entity)
	if err != nil {
		return "", nil, err
	}
	a := &args{d: d}
	where, err := a.where(match)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where), a.vals, nil
}

func (a *args) where(match store.Match) (string, error) {
	if len(match) == 0 {
		return "", nil
	}
	if err := store.CheckColumns(match); err != nil {
		return "", err
	}
	cols := store.SortedKeys(match)
	conds := make([]string, len(cols))
	for i, c := range cols {
		if match[c] == nil {
			conds[i] = c + " IS NULL"
			continue
		}
		conds[i] = c + " = " + a.add(match[c])
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}
