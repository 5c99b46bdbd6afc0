package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Int64 reads an integer column regardless of the driver's integer width.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case uint32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Int reads an integer column as int.
func (r Row) Int(col string) int {
	return int(r.Int64(col))
}

// String reads a text column; NULL becomes "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool reads a boolean column stored natively or as 0/1.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case nil:
		return false
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return r.Int64(col) != 0
}

// Time reads a timestamp column; NULL and unparsable values become the zero time.
func (r Row) Time(col string) time.Time {
	if t := r.TimePtr(col); t != nil {
		return *t
	}
	return time.Time{}
}

// TimePtr reads a nullable timestamp column.
func (r Row) TimePtr(col string) *time.Time {
	switch v := r[col].(type) {
	case time.Time:
		t := v.UTC()
		return &t
	case *time.Time:
		if v == nil {
			return nil
		}
		t := v.UTC()
		return &t
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	case int64:
		t := time.Unix(v, 0).UTC()
		return &t
	}
	return nil
}

// Strings reads a list column stored as a JSON array (or legacy comma list).
func (r Row) Strings(col string) []string {
	raw := strings.TrimSpace(r.String(col))
	if raw == "" {
		return []string{}
	}
	var out []string
	if strings.HasPrefix(raw, "[") && json.Unmarshal([]byte(raw), &out) == nil {
		return out
	}
	out = []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JSONMap reads a JSON object column.
func (r Row) JSONMap(col string) map[string]any {
	raw := r.String(col)
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

// EncodeStrings serializes a list column.
func EncodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// EncodeJSON serializes a JSON column; nil maps become NULL.
func EncodeJSON(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// NullTime converts an optional timestamp to a column value.
func NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// NullString stores "" as NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
