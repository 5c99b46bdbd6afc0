package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	runid "github.com/JakeFAU/madara-crawler/internal/id/uuid"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
	"github.com/JakeFAU/madara-crawler/internal/progress"
	"github.com/JakeFAU/madara-crawler/internal/queue"
	"github.com/JakeFAU/madara-crawler/internal/scheduler"
)

// SourceService manages scrape targets. *crawler.Sources satisfies it.
type SourceService interface {
	AddSource(ctx context.Context, name, rawURL string) (int64, error)
	UpdateSource(ctx context.Context, id int64, name, rawURL string) (crawler.Source, error)
	DeleteSource(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	GetSource(ctx context.Context, id int64) (crawler.Source, error)
	ListSources(ctx context.Context, filter crawler.SourceFilter) ([]crawler.Source, error)
}

// CollectionService runs collection-level crawls. *crawler.CollectionCrawler satisfies it.
type CollectionService interface {
	ScrapeAll(ctx context.Context, src crawler.Source) (crawler.CrawlReport, error)
	ScrapeCollection(ctx context.Context, src crawler.Source, nativeID string) (crawler.Collection, crawler.UnitReport, error)
	DeleteCollectionCascade(ctx context.Context, id int64) error
}

// UnitService downloads units. *crawler.UnitCrawler satisfies it.
type UnitService interface {
	ScrapeUnit(ctx context.Context, src crawler.Source, collectionNativeID, unitNativeID string) (crawler.DownloadReport, error)
	GetUnits(ctx context.Context, filter crawler.UnitFilter) ([]crawler.Unit, error)
}

// CatalogReader lists cataloged records.
type CatalogReader interface {
	GetCollection(ctx context.Context, id int64) (crawler.Collection, error)
	ListCollections(ctx context.Context, filter crawler.CollectionFilter) ([]crawler.Collection, error)
	CountCollections(ctx context.Context, filter crawler.CollectionFilter) (int64, error)
	CountUnits(ctx context.Context, filter crawler.UnitFilter) (int64, error)
}

// QueueService is the queue surface the operator API drives. *queue.Queue satisfies it.
type QueueService interface {
	Stats(ctx context.Context) (queue.Stats, error)
	List(ctx context.Context, filter queue.Filter, limit, offset int) ([]crawler.QueueItem, error)
	Count(ctx context.Context, filter queue.Filter) (int64, error)
	Clear(ctx context.Context, filter queue.Filter) (int64, error)
	RetryFailed(ctx context.Context) (int64, error)
	ResetProcessing(ctx context.Context) (int64, error)
	SetPriority(ctx context.Context, id int64, priority int) error
	Process(ctx context.Context, n int, exec queue.Executor) (queue.BatchReport, error)
}

// Runner starts scheduler runs on demand. *scheduler.Scheduler satisfies it.
type Runner interface {
	RunNow(ctx context.Context, kind string) (uuid.UUID, error)
}

// SettingsService reads and overrides runtime settings. *settings.Provider satisfies it.
type SettingsService interface {
	Current(ctx context.Context) (crawler.Settings, error)
	Update(ctx context.Context, overrides map[string]string) (crawler.Settings, error)
}

// Journal exposes the persisted logs and error records. *store.Repository satisfies it.
type Journal interface {
	ListLogs(ctx context.Context, level crawler.LogLevel, limit, offset int) ([]crawler.LogEntry, error)
	ListErrors(ctx context.Context, itemKind string, limit, offset int) ([]crawler.ErrorRecord, error)
	ClearLogs(ctx context.Context, level crawler.LogLevel) (int64, error)
	ClearErrors(ctx context.Context, itemKind string) (int64, error)
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Sources     SourceService
	Collections CollectionService
	Units       UnitService
	Catalog     CatalogReader
	Queue       QueueService
	Executor    queue.Executor
	Runner      Runner
	Settings    SettingsService
	Journal     Journal
	Ready       ReadyFunc
	Metrics     http.Handler
}

// Config controls middleware behavior.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// BaseContext bounds background work started by trigger routes.
	BaseContext context.Context
}

// Server wires HTTP handlers to the crawl services.
type Server struct {
	router chi.Router
	d      Deps
	cfg    Config
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(d Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Handler()
	}
	s := &Server{d: d, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", d.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.addSource)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSource)
				r.Put("/", s.updateSource)
				r.Delete("/", s.deleteSource)
				r.Post("/activate", s.setActive(true))
				r.Post("/deactivate", s.setActive(false))
				r.Post("/scrape", s.scrapeSource)
				r.Post("/collections/{native}/scrape", s.scrapeCollection)
				r.Post("/units/{collection}/{unit}/scrape", s.scrapeUnit)
			})
		})
		r.Route("/collections", func(r chi.Router) {
			r.Get("/", s.listCollections)
			r.Get("/{id}", s.getCollection)
			r.Delete("/{id}", s.deleteCollection)
		})
		r.Get("/units", s.listUnits)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.listQueue)
			r.Delete("/", s.clearQueue)
			r.Get("/stats", s.queueStats)
			r.Post("/retry-failed", s.retryFailed)
			r.Post("/reset-processing", s.resetProcessing)
			r.Post("/process", s.processQueue)
			r.Put("/{id}/priority", s.setPriority)
		})
		r.Post("/scheduler/run/{kind}", s.runScheduler)
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Get("/logs", s.listLogs)
		r.Delete("/logs", s.clearLogs)
		r.Get("/errors", s.listErrors)
		r.Delete("/errors", s.clearErrors)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until background work started by trigger routes has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.d.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.d.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// spawn runs fn under the lifetime context with a fresh run id and returns the id.
func (s *Server) spawn(name string, fn func(ctx context.Context) error) uuid.UUID {
	id := runid.NewRunID()
	ctx := progress.WithRunID(s.cfg.BaseContext, id)
	log := s.logger.With(zap.String("trigger", name), zap.String("run_id", id.String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Error("triggered run failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		log.Info("triggered run finished", zap.Duration("duration", time.Since(start)))
	}()
	return id
}

func accepted(w http.ResponseWriter, id uuid.UUID) {
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id.String(), "status": "accepted"})
}

// fail maps service errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case crawler.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case crawler.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrNotBound), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" unavailable")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return crawler.Invalid("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if expected == "" || key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
