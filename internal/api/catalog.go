package api

import (
	"net/http"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	if s.d.Catalog == nil {
		unavailable(w, "catalog")
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		s.fail(w, "list collections", err)
		return
	}
	sourceID, err := optionalInt64(r, "source_id")
	if err != nil {
		s.fail(w, "list collections", err)
		return
	}
	filter := crawler.CollectionFilter{SourceID: sourceID, Limit: limit, Offset: offset}
	colls, err := s.d.Catalog.ListCollections(r.Context(), filter)
	if err != nil {
		s.fail(w, "list collections", err)
		return
	}
	total, err := s.d.Catalog.CountCollections(r.Context(), crawler.CollectionFilter{SourceID: sourceID})
	if err != nil {
		s.fail(w, "count collections", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": colls, "total": total})
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	if s.d.Catalog == nil {
		unavailable(w, "catalog")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, "get collection", err)
		return
	}
	coll, err := s.d.Catalog.GetCollection(r.Context(), id)
	if err != nil {
		s.fail(w, "get collection", err)
		return
	}
	units, err := s.d.Catalog.CountUnits(r.Context(), crawler.UnitFilter{CollectionID: id})
	if err != nil {
		s.fail(w, "count units", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": coll, "units": units})
}

// deleteCollection removes the collection, its units and its stored assets.
func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	if s.d.Collections == nil {
		unavailable(w, "collection crawler")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, "delete collection", err)
		return
	}
	if err := s.d.Collections.DeleteCollectionCascade(r.Context(), id); err != nil {
		s.fail(w, "delete collection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUnits(w http.ResponseWriter, r *http.Request) {
	if s.d.Units == nil {
		unavailable(w, "units")
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		s.fail(w, "list units", err)
		return
	}
	collectionID, err := optionalInt64(r, "collection_id")
	if err != nil {
		s.fail(w, "list units", err)
		return
	}
	downloaded, err := optionalBool(r, "downloaded")
	if err != nil {
		s.fail(w, "list units", err)
		return
	}
	processed, err := optionalBool(r, "processed")
	if err != nil {
		s.fail(w, "list units", err)
		return
	}
	units, err := s.d.Units.GetUnits(r.Context(), crawler.UnitFilter{
		CollectionID: collectionID,
		Downloaded:   downloaded,
		Processed:    processed,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.fail(w, "list units", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}
