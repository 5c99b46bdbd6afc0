package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

type sourceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	if s.d.Sources == nil {
		unavailable(w, "sources")
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		s.fail(w, "list sources", err)
		return
	}
	active, err := optionalBool(r, "active")
	if err != nil {
		s.fail(w, "list sources", err)
		return
	}
	sources, err := s.d.Sources.ListSources(r.Context(), crawler.SourceFilter{Active: active, Limit: limit, Offset: offset})
	if err != nil {
		s.fail(w, "list sources", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	if s.d.Sources == nil {
		unavailable(w, "sources")
		return
	}
	var req sourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, "add source", err)
		return
	}
	id, err := s.d.Sources.AddSource(r.Context(), req.Name, req.URL)
	if err != nil {
		s.fail(w, "add source", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src})
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	if s.d.Sources == nil {
		unavailable(w, "sources")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, "update source", err)
		return
	}
	var req sourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, "update source", err)
		return
	}
	src, err := s.d.Sources.UpdateSource(r.Context(), id, req.Name, req.URL)
	if err != nil {
		s.fail(w, "update source", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src})
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	if s.d.Sources == nil {
		unavailable(w, "sources")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, "delete source", err)
		return
	}
	if err := s.d.Sources.DeleteSource(r.Context(), id); err != nil {
		s.fail(w, "delete source", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.d.Sources == nil {
			unavailable(w, "sources")
			return
		}
		id, err := parseID(r, "id")
		if err != nil {
			s.fail(w, "set active", err)
			return
		}
		if err := s.d.Sources.SetActive(r.Context(), id, active); err != nil {
			s.fail(w, "set active", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
	}
}

// scrapeSource starts a full directory walk for the source.
func (s *Server) scrapeSource(w http.ResponseWriter, r *http.Request) {
	if s.d.Collections == nil {
		unavailable(w, "collection crawler")
		return
	}
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	id := s.spawn("scrape_source", func(ctx context.Context) error {
		_, err := s.d.Collections.ScrapeAll(ctx, src)
		return err
	})
	accepted(w, id)
}

func (s *Server) scrapeCollection(w http.ResponseWriter, r *http.Request) {
	if s.d.Collections == nil {
		unavailable(w, "collection crawler")
		return
	}
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	native := chi.URLParam(r, "native")
	if native == "" {
		s.fail(w, "scrape collection", crawler.Invalid("native", "is required"))
		return
	}
	id := s.spawn("scrape_collection", func(ctx context.Context) error {
		_, _, err := s.d.Collections.ScrapeCollection(ctx, src, native)
		return err
	})
	accepted(w, id)
}

func (s *Server) scrapeUnit(w http.ResponseWriter, r *http.Request) {
	if s.d.Units == nil {
		unavailable(w, "unit crawler")
		return
	}
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	coll, unit := chi.URLParam(r, "collection"), chi.URLParam(r, "unit")
	if coll == "" || unit == "" {
		s.fail(w, "scrape unit", crawler.Invalid("unit", "collection and unit are required"))
		return
	}
	id := s.spawn("scrape_unit", func(ctx context.Context) error {
		_, err := s.d.Units.ScrapeUnit(ctx, src, coll, unit)
		return err
	})
	accepted(w, id)
}

func (s *Server) loadSource(w http.ResponseWriter, r *http.Request) (crawler.Source, bool) {
	if s.d.Sources == nil {
		unavailable(w, "sources")
		return crawler.Source{}, false
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, "get source", err)
		return crawler.Source{}, false
	}
	src, err := s.d.Sources.GetSource(r.Context(), id)
	if err != nil {
		s.fail(w, "get source", err)
		return crawler.Source{}, false
	}
	return src, true
}
