package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/queue"
)

func parseQueueFilter(r *http.Request) (queue.Filter, error) {
	q := r.URL.Query()
	filter := queue.Filter{
		Status: crawler.QueueStatus(q.Get("status")),
		Kind:   crawler.ItemKind(q.Get("kind")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return queue.Filter{}, crawler.Invalid("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return queue.Filter{}, crawler.Invalid("kind", fmt.Sprintf("unknown kind %q", filter.Kind))
	}
	sourceID, err := optionalInt64(r, "source_id")
	if err != nil {
		return queue.Filter{}, err
	}
	filter.SourceID = sourceID
	return filter, nil
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil {
		unavailable(w, "queue")
		return
	}
	filter, err := parseQueueFilter(r)
	if err != nil {
		s.fail(w, "list queue", err)
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		s.fail(w, "list queue", err)
		return
	}
	items, err := s.d.Queue.List(r.Context(), filter, limit, offset)
	if err != nil {
		s.fail(w, "list queue", err)
		return
	}
	total, err := s.d.Queue.Count(r.Context(), filter)
	if err != nil {
		s.fail(w, "count queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil {
		unavailable(w, "queue")
		return
	}
	stats, err := s.d.Queue.Stats(r.Context())
	if err != nil {
		s.fail(w, "queue stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil {
		unavailable(w, "queue")
		return
	}
	filter, err := parseQueueFilter(r)
	if err != nil {
		s.fail(w, "clear queue", err)
		return
	}
	n, err := s.d.Queue.Clear(r.Context(), filter)
	if err != nil {
		s.fail(w, "clear queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil {
		unavailable(w, "queue")
		return
	}
	n, err := s.d.Queue.RetryFailed(r.Context())
	if err != nil {
		s.fail(w, "retry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

func (s *Server) resetProcessing(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil {
		unavailable(w, "queue")
		return
	}
	n, err := s.d.Queue.ResetProcessing(r.Context())
	if err != nil {
		s.fail(w, "reset processing", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

// processQueue drains one batch in the background. ?n= overrides the batch size.
func (s *Server) processQueue(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil || s.d.Executor == nil {
		unavailable(w, "queue")
		return
	}
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.fail(w, "process queue", crawler.Invalid("n", "must be a positive integer"))
			return
		}
		n = v
	}
	if n == 0 {
		n = crawler.DefaultSettings().BatchSize
		if s.d.Settings != nil {
			current, err := s.d.Settings.Current(r.Context())
			if err != nil {
				s.fail(w, "process queue", err)
				return
			}
			n = current.BatchSize
		}
	}
	id := s.spawn("process_queue", func(ctx context.Context) error {
		_, err := s.d.Queue.Process(ctx, n, s.d.Executor)
		return err
	})
	accepted(w, id)
}

type priorityRequest struct {
	Priority *int `json:"priority"`
}

func (s *Server) setPriority(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue == nil {
		unavailable(w, "queue")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, "set priority", err)
		return
	}
	var req priorityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, "set priority", err)
		return
	}
	if req.Priority == nil {
		s.fail(w, "set priority", crawler.Invalid("priority", "is required"))
		return
	}
	if err := s.d.Queue.SetPriority(r.Context(), id, *req.Priority); err != nil {
		s.fail(w, "set priority", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "priority": *req.Priority})
}
