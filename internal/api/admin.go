package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func (s *Server) runScheduler(w http.ResponseWriter, r *http.Request) {
	if s.d.Runner == nil {
		unavailable(w, "scheduler")
		return
	}
	id, err := s.d.Runner.RunNow(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		s.fail(w, "run scheduler", err)
		return
	}
	accepted(w, id)
}

// settingsView renders durations in Go syntax so they round-trip through PUT.
func settingsView(st crawler.Settings) map[string]any {
	return map[string]any{
		"request_delay":           st.RequestDelay.String(),
		"asset_delay":             st.AssetDelay.String(),
		"max_pages":               st.MaxPages,
		"max_empty_pages":         st.MaxEmptyPages,
		"default_priority":        st.DefaultPriority,
		"max_attempts":            st.MaxAttempts,
		"batch_size":              st.BatchSize,
		"check_interval":          st.CheckInterval.String(),
		"queue_interval":          st.QueueInterval.String(),
		"check_new_collections":   st.CheckNewCollections,
		"check_new_units":         st.CheckNewUnits,
		"max_new_collections":     st.MaxNewCollections,
		"max_collections_checked": st.MaxCollectionsChecked,
		"max_new_units":           st.MaxNewUnits,
		"retry_failed_each_tick":  st.RetryFailedEachTick,
		"merge_assets":            st.MergeAssets,
		"merge_format":            st.MergeFormat,
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	if s.d.Settings == nil {
		unavailable(w, "settings")
		return
	}
	current, err := s.d.Settings.Current(r.Context())
	if err != nil {
		s.fail(w, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settingsView(current)})
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	if s.d.Settings == nil {
		unavailable(w, "settings")
		return
	}
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, "update settings", err)
		return
	}
	if len(body) == 0 {
		s.fail(w, "update settings", crawler.Invalid("settings", "no values given"))
		return
	}
	overrides := make(map[string]string, len(body))
	for k, v := range body {
		switch v.(type) {
		case string, bool, float64:
			overrides[k] = fmt.Sprint(v)
		default:
			s.fail(w, "update settings", crawler.Invalid(k, "must be a string, number or boolean"))
			return
		}
	}
	updated, err := s.d.Settings.Update(r.Context(), overrides)
	if err != nil {
		s.fail(w, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settingsView(updated)})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	if s.d.Journal == nil {
		unavailable(w, "journal")
		return
	}
	level, err := parseLevel(r.URL.Query().Get("level"))
	if err != nil {
		s.fail(w, "list logs", err)
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		s.fail(w, "list logs", err)
		return
	}
	logs, err := s.d.Journal.ListLogs(r.Context(), level, limit, offset)
	if err != nil {
		s.fail(w, "list logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	if s.d.Journal == nil {
		unavailable(w, "journal")
		return
	}
	level, err := parseLevel(r.URL.Query().Get("level"))
	if err != nil {
		s.fail(w, "clear logs", err)
		return
	}
	n, err := s.d.Journal.ClearLogs(r.Context(), level)
	if err != nil {
		s.fail(w, "clear logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	if s.d.Journal == nil {
		unavailable(w, "journal")
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		s.fail(w, "list errors", err)
		return
	}
	kind := strings.TrimSpace(r.URL.Query().Get("item_kind"))
	records, err := s.d.Journal.ListErrors(r.Context(), kind, limit, offset)
	if err != nil {
		s.fail(w, "list errors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": records})
}

func (s *Server) clearErrors(w http.ResponseWriter, r *http.Request) {
	if s.d.Journal == nil {
		unavailable(w, "journal")
		return
	}
	n, err := s.d.Journal.ClearErrors(r.Context(), strings.TrimSpace(r.URL.Query().Get("item_kind")))
	if err != nil {
		s.fail(w, "clear errors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
