package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/datasheet-lens/internal/application/analysis"
	"github.com/bryanwahyu/datasheet-lens/internal/application/settings"
	domai "github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/watcher"
	"github.com/bryanwahyu/datasheet-lens/internal/middleware"
	"github.com/bryanwahyu/datasheet-lens/internal/observability"
)

// Analyses is the part of the analysis service the handlers use.
type Analyses interface {
	Snapshot(ctx context.Context) ([]*records.AnalysisRecord, error)
	List(ctx context.Context, f records.Filter) (records.PaginatedResult, error)
	Summary(ctx context.Context) (records.Summary, error)
	Record(ctx context.Context, path, id string) (*records.AnalysisRecord, error)
	Requeue(ctx context.Context, id string) (*records.AnalysisRecord, error)
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context) <-chan analysis.Event
	QueueDepth() int
}

type Settings interface {
	View() settings.View
	SetAPIKey(ctx context.Context, key string) error
	SetWatchFolder(ctx context.Context, folder string) error
}

type WatchState interface {
	State() (watcher.State, string)
}

type Options struct {
	Analyses Analyses
	Settings Settings
	Watcher  WatchState

	// Providers backs /metrics and the HTTP metrics middleware. Optional.
	Providers *observability.Providers
	Health    map[string]middleware.HealthChecker

	AllowedOrigins []string
	AccessToken    string
	Heartbeat      time.Duration
	Logger         *slog.Logger
}

type Router struct {
	analyses  Analyses
	settings  Settings
	watcher   WatchState
	pages     *pages
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewRouter(opts Options) (http.Handler, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	pg, err := loadPages()
	if err != nil {
		return nil, err
	}
	r := &Router{
		analyses:  opts.Analyses,
		settings:  opts.Settings,
		watcher:   opts.Watcher,
		pages:     pg,
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger.With("component", "httpserver"),
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Logging(opts.Logger))
	if opts.Providers != nil {
		mw, err := middleware.Metrics(opts.Providers.Meter)
		if err != nil {
			return nil, err
		}
		mux.Use(mw)
	}
	mux.Use(middleware.AccessToken(opts.AccessToken))

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	if opts.Providers != nil {
		mux.Get("/metrics", middleware.MetricsHandler(opts.Providers))
	}

	mux.Get("/", r.page(r.handleListPage))
	mux.Get("/records/{id}", r.page(r.handleDetailPage))
	mux.Post("/records/{id}/requeue", r.page(r.handleRequeueForm))
	mux.Post("/records/{id}/delete", r.page(r.handleDeleteForm))
	mux.Get("/settings", r.page(r.handleSettingsPage))
	mux.Post("/settings", r.page(r.handleSettingsForm))

	mux.Route("/api/v1", func(rt chi.Router) {
		rt.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		rt.Get("/records", r.wrap(r.handleList))
		rt.Get("/summary", r.wrap(r.handleSummary))
		rt.Get("/records/{id}", r.wrap(r.handleGet))
		rt.Post("/records/{id}/requeue", r.wrap(r.handleRequeue))
		rt.Delete("/records/{id}", r.wrap(r.handleDelete))
		rt.Get("/settings", r.wrap(r.handleSettings))
		rt.Put("/settings/api-key", r.wrap(r.handleSetAPIKey))
		rt.Put("/settings/watch-folder", r.wrap(r.handleSetWatchFolder))
		rt.Get("/status", r.wrap(r.handleStatus))
		rt.Get("/events", r.wrap(r.handleEvents))
	})

	return mux, nil
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks malformed input that never reached a service.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func statusOf(err error) int {
	var (
		br *badRequest
		ve *settings.ValidationError
	)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &br), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, analysis.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				r.logger.Error("request failed", "path", req.URL.Path, "error", err)
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func recordID(req *http.Request) (string, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		return "", &badRequest{msg: err.Error()}
	}
	return id, nil
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &badRequest{msg: key + " must be a non-negative integer"}
	}
	return n, nil
}

// listFilter reads ?manufacturer=, ?tag=key:value, ?status=, ?page= and
// ?page_size=.
func listFilter(req *http.Request) (records.Filter, error) {
	q := req.URL.Query()
	var f records.Filter
	if v := q.Get("manufacturer"); v != "" {
		f.TagKey, f.TagValue = records.TagManufacturer, v
	}
	if v := q.Get("tag"); v != "" {
		key, value, ok := strings.Cut(v, ":")
		if !ok || key == "" {
			return f, &badRequest{msg: "tag must look like key:value"}
		}
		f.TagKey, f.TagValue = key, value
	}
	if v := q.Get("status"); v != "" {
		f.Status = records.Status(v)
		if !f.Status.Valid() {
			return f, &badRequest{msg: "unknown status " + strconv.Quote(v)}
		}
	}
	var err error
	if f.Page, err = queryInt(q, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(q, "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

// GET /api/v1/records
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	f, err := listFilter(req)
	if err != nil {
		return err
	}
	res, err := r.analyses.List(req.Context(), f)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /api/v1/summary
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	sum, err := r.analyses.Summary(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sum)
}

// GET /api/v1/records/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := recordID(req)
	if err != nil {
		return err
	}
	rec, err := r.analyses.Record(req.Context(), "", id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// POST /api/v1/records/{id}/requeue
func (r *Router) handleRequeue(w http.ResponseWriter, req *http.Request) error {
	id, err := recordID(req)
	if err != nil {
		return err
	}
	rec, err := r.analyses.Requeue(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, rec)
}

// DELETE /api/v1/records/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	id, err := recordID(req)
	if err != nil {
		return err
	}
	if err := r.analyses.Delete(req.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/v1/settings
func (r *Router) handleSettings(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, r.settings.View())
}

func decode(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, 64<<10)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return &badRequest{msg: "invalid JSON body: " + err.Error()}
	}
	return nil
}

// PUT /api/v1/settings/api-key
// Body: {"api_key": "<key>"}
func (r *Router) handleSetAPIKey(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if err := r.settings.SetAPIKey(req.Context(), body.APIKey); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, r.settings.View())
}

// PUT /api/v1/settings/watch-folder
// Body: {"folder": "<path>"}; an empty folder stops watching.
func (r *Router) handleSetWatchFolder(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Folder string `json:"folder"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	folder := middleware.SanitizeString(body.Folder)
	if err := middleware.ValidateFolderPath(folder); err != nil {
		return &badRequest{msg: err.Error()}
	}
	if err := r.settings.SetWatchFolder(req.Context(), folder); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, r.settings.View())
}

type status struct {
	Watcher     watcher.State `json:"watcher"`
	WatchFolder string        `json:"watch_folder"`
	QueueDepth  int           `json:"queue_depth"`
	APIKeySet   bool          `json:"api_key_set"`
}

func (r *Router) status() status {
	st := status{Watcher: watcher.StateIdle, QueueDepth: r.analyses.QueueDepth(), APIKeySet: r.settings.View().APIKeySet}
	if r.watcher != nil {
		st.Watcher, st.WatchFolder = r.watcher.State()
	}
	return st
}

// GET /api/v1/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, r.status())
}
