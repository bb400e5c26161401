package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/monitor"
	"github.com/hazz-dev/canary/internal/storage"
	"github.com/hazz-dev/canary/internal/version"
)

// CronSecretHeader carries the shared secret of the batch trigger.
const CronSecretHeader = "X-Cron-Secret"

// ServerStore defines the storage queries the server needs.
type ServerStore interface {
	ListChecks(ctx context.Context) ([]model.Check, error)
	GetCheck(ctx context.Context, id string) (*model.Check, error)
	ListResults(ctx context.Context, checkID string, limit, offset int) ([]model.CheckResult, int, error)
	ListIncidents(ctx context.Context, checkID string) ([]model.Incident, error)
	UptimePercent(ctx context.Context, checkID string, last int) (float64, error)
	GetStatusPage(ctx context.Context, slug string) (*model.StatusPage, error)
}

// BatchRunner executes one batch of due checks.
type BatchRunner interface {
	Run(ctx context.Context) (monitor.Report, error)
}

// Options configures the HTTP surface.
type Options struct {
	// CronSecret authorizes the trigger endpoint. Empty rejects every trigger.
	CronSecret     string
	AllowedOrigins []string
}

// Server holds the chi router and its dependencies.
type Server struct {
	store  ServerStore
	runner BatchRunner
	secret []byte
	router chi.Router
	logger *zap.Logger
}

// New creates a new Server and registers all routes.
func New(store ServerStore, runner BatchRunner, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		runner: runner,
		secret: []byte(opts.CronSecret),
		router: chi.NewRouter(),
		logger: logger,
	}
	s.registerRoutes(opts.AllowedOrigins)
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes(origins []string) {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", CronSecretHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/api/health", s.handleHealth)

	r.Post("/api/cron/run", s.handleCronRun)
	r.Get("/api/cron/run", s.handleCronRun)

	r.Get("/api/checks", s.handleListChecks)
	r.Get("/api/checks/{id}", s.handleGetCheck)
	r.Get("/api/checks/{id}/results", s.handleListResults)
	r.Get("/api/checks/{id}/incidents", s.handleListIncidents)

	r.Get("/api/status/{slug}", s.handleStatusPage)
}

// --- Response helpers ---

type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.secret) == 0 {
		return false
	}
	got := []byte(r.Header.Get(CronSecretHeader))
	return subtle.ConstantTimeCompare(got, s.secret) == 1
}

func (s *Server) handleCronRun(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("cron_unauthorized", zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	report, err := s.runner.Run(r.Context())
	if err != nil {
		s.logger.Error("cron_run_failed", zap.String("run_id", report.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report.Summary)
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := s.store.ListChecks(r.Context())
	if err != nil {
		s.logger.Error("list_checks_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if checks == nil {
		checks = []model.Check{}
	}
	writeJSON(w, http.StatusOK, checks)
}

type checkDetail struct {
	model.Check
	UptimePct     float64             `json:"uptime_percent"`
	OpenIncident  *model.Incident     `json:"open_incident"`
	RecentResults []model.CheckResult `json:"recent_results"`
}

func (s *Server) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, ok := s.lookupCheck(w, r, id)
	if !ok {
		return
	}

	recent, _, err := s.store.ListResults(r.Context(), id, 10, 0)
	if err != nil {
		s.logger.Error("list_results_failed", zap.String("check_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	incidents, err := s.store.ListIncidents(r.Context(), id)
	if err != nil {
		s.logger.Error("list_incidents_failed", zap.String("check_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	pct, _ := s.store.UptimePercent(r.Context(), id, 100)

	d := checkDetail{Check: *c, UptimePct: pct, RecentResults: recent}
	if d.RecentResults == nil {
		d.RecentResults = []model.CheckResult{}
	}
	for i := range incidents {
		if incidents[i].Status == model.IncidentOpen {
			d.OpenIncident = &incidents[i]
			break
		}
	}
	writeJSON(w, http.StatusOK, d)
}

type resultsResponse struct {
	Results []model.CheckResult `json:"results"`
	Total   int                 `json:"total"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.lookupCheck(w, r, id); !ok {
		return
	}

	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	results, total, err := s.store.ListResults(r.Context(), id, limit, offset)
	if err != nil {
		s.logger.Error("list_results_failed", zap.String("check_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if results == nil {
		results = []model.CheckResult{}
	}
	writeJSON(w, http.StatusOK, resultsResponse{Results: results, Total: total})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.lookupCheck(w, r, id); !ok {
		return
	}

	incidents, err := s.store.ListIncidents(r.Context(), id)
	if err != nil {
		s.logger.Error("list_incidents_failed", zap.String("check_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if incidents == nil {
		incidents = []model.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

// statusPageIncidentLimit caps the incident history shown on a status page.
const statusPageIncidentLimit = 20

type statusPageCheck struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	LastStatus    model.Status    `json:"last_status"`
	LastCheckedAt *time.Time      `json:"last_checked_at"`
	UptimePct     float64         `json:"uptime_percent"`
	OpenIncident  *model.Incident `json:"open_incident"`
}

type statusPageIncident struct {
	model.Incident
	CheckName string `json:"check_name"`
}

type statusPageView struct {
	Slug        string               `json:"slug"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Checks      []statusPageCheck    `json:"checks"`
	Incidents   []statusPageIncident `json:"incidents"`
}

// handleStatusPage serves the public view of an enabled status page. Checks that no
// longer exist are left out.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, err := s.store.GetStatusPage(r.Context(), slug)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !page.Enabled) {
		writeError(w, http.StatusNotFound, "status page not found")
		return
	}
	if err != nil {
		s.logger.Error("get_status_page_failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	view := statusPageView{
		Slug:        page.Slug,
		Title:       page.Title,
		Description: page.Description,
		Checks:      []statusPageCheck{},
		Incidents:   []statusPageIncident{},
	}
	for _, id := range page.CheckIDs {
		c, err := s.store.GetCheck(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("get_check_failed", zap.String("check_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		incidents, err := s.store.ListIncidents(r.Context(), id)
		if err != nil {
			s.logger.Error("list_incidents_failed", zap.String("check_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		pct, _ := s.store.UptimePercent(r.Context(), id, 100)

		item := statusPageCheck{
			ID:            c.ID,
			Name:          c.Name,
			LastStatus:    c.LastStatus,
			LastCheckedAt: c.LastCheckedAt,
			UptimePct:     pct,
		}
		for i := range incidents {
			if incidents[i].Status == model.IncidentOpen && item.OpenIncident == nil {
				item.OpenIncident = &incidents[i]
			}
			view.Incidents = append(view.Incidents, statusPageIncident{Incident: incidents[i], CheckName: c.Name})
		}
		view.Checks = append(view.Checks, item)
	}

	sort.SliceStable(view.Incidents, func(i, j int) bool {
		a, b := view.Incidents[i], view.Incidents[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		return a.ID > b.ID
	})
	if len(view.Incidents) > statusPageIncidentLimit {
		view.Incidents = view.Incidents[:statusPageIncidentLimit]
	}
	writeJSON(w, http.StatusOK, view)
}

// lookupCheck writes the error response itself and reports false when the check is unusable.
func (s *Server) lookupCheck(w http.ResponseWriter, r *http.Request, id string) (*model.Check, bool) {
	c, err := s.store.GetCheck(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "check not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get_check_failed", zap.String("check_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return c, true
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
