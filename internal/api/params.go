package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, crawler.Invalid(param, "is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, crawler.Invalid(param, "must be a positive integer")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := defaultListLimit
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, crawler.Invalid("limit", "must be a positive integer")
		}
		limit = min(val, maxListLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, crawler.Invalid("offset", "must be a non-negative integer")
		}
		offset = val
	}
	return limit, offset, nil
}

// optionalBool reads a true/false query parameter; absent means no filter.
func optionalBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, crawler.Invalid(name, "must be true or false")
	}
	return &v, nil
}

func optionalInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, crawler.Invalid(name, "must be a non-negative integer")
	}
	return v, nil
}

func parseLevel(raw string) (crawler.LogLevel, error) {
	switch lvl := crawler.LogLevel(strings.ToLower(strings.TrimSpace(raw))); lvl {
	case "", crawler.LevelDebug, crawler.LevelInfo, crawler.LevelWarning, crawler.LevelError:
		return lvl, nil
	}
	return "", crawler.Invalid("level", "unknown level "+strconv.Quote(raw))
}
