package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/madara-crawler/internal/extract"
)

// Sources manages registered sites.
type Sources struct {
	d Deps
}

// NewSources builds a Sources service. Catalog and Fetcher are required.
func NewSources(d Deps) *Sources {
	return &Sources{d: d.withDefaults()}
}

// AddSource validates and registers a site. The homepage must carry a theme
// fingerprint. Registering a URL twice returns the existing id.
func (s *Sources) AddSource(ctx context.Context, name, rawURL string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, Invalid("name", "must not be empty")
	}
	normalized, err := NormalizeSourceURL(rawURL)
	if err != nil {
		return 0, err
	}

	existing, err := s.d.Catalog.FindSourceByURL(ctx, normalized)
	if err == nil {
		return existing.ID, nil
	}
	if !IsNotFound(err) {
		return 0, err
	}

	if err := s.probe(ctx, normalized); err != nil {
		return 0, err
	}

	id, err := s.d.Catalog.InsertSource(ctx, Source{Name: name, URL: normalized, Active: true})
	if errors.Is(err, ErrConflict) {
		existing, ferr := s.d.Catalog.FindSourceByURL(ctx, normalized)
		if ferr != nil {
			return 0, ferr
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, err
	}
	s.d.Observer.Log(ctx, LevelInfo, "source added", map[string]any{"source_id": id, "name": name, "url": normalized})
	return id, nil
}

func (s *Sources) probe(ctx context.Context, siteURL string) error {
	resp, err := s.d.Fetcher.Fetch(ctx, FetchRequest{URL: siteURL})
	if err != nil {
		return Invalid("url", fmt.Sprintf("site unreachable: %v", err))
	}
	if !extract.IsMadara(resp.Body) {
		s.d.Observer.Log(ctx, LevelWarning, "source rejected", map[string]any{
			"url": siteURL, "snippet": extract.Snippet(resp.Body),
		})
		return Invalid("url", "site does not look like a Madara theme")
	}
	return nil
}

// UpdateSource renames a source or moves it to a new URL. A changed URL is probed again.
func (s *Sources) UpdateSource(ctx context.Context, id int64, name, rawURL string) (Source, error) {
	src, err := s.d.Catalog.GetSource(ctx, id)
	if err != nil {
		return Source{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		src.Name = name
	}
	if strings.TrimSpace(rawURL) != "" {
		normalized, err := NormalizeSourceURL(rawURL)
		if err != nil {
			return Source{}, err
		}
		if normalized != src.URL {
			if err := s.probe(ctx, normalized); err != nil {
				return Source{}, err
			}
			src.URL = normalized
		}
	}
	if err := s.d.Catalog.UpdateSource(ctx, src); err != nil {
		if errors.Is(err, ErrConflict) {
			return Source{}, Invalid("url", "another source already uses this url")
		}
		return Source{}, err
	}
	return s.d.Catalog.GetSource(ctx, id)
}

// DeleteSource removes the source record only; its collections stay.
func (s *Sources) DeleteSource(ctx context.Context, id int64) error {
	n, err := s.d.Catalog.DeleteSource(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	s.d.Observer.Log(ctx, LevelInfo, "source deleted", map[string]any{"source_id": id})
	return nil
}

// SetActive toggles whether the scheduler checks a source.
func (s *Sources) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.d.Catalog.GetSource(ctx, id); err != nil {
		return err
	}
	return s.d.Catalog.SetSourceActive(ctx, id, active)
}

// GetSource loads one source.
func (s *Sources) GetSource(ctx context.Context, id int64) (Source, error) {
	return s.d.Catalog.GetSource(ctx, id)
}

// ListSources lists sources.
func (s *Sources) ListSources(ctx context.Context, filter SourceFilter) ([]Source, error) {
	return s.d.Catalog.ListSources(ctx, filter)
}
