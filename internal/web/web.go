package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"famdigest/internal/calendar"
	"famdigest/internal/config"
	appLog "famdigest/internal/log"
	"famdigest/internal/metrics"
	"famdigest/internal/pipeline"
	"famdigest/internal/week"
)

// Runner is the part of pipeline.Runner the HTTP API uses.
type Runner interface {
	ResolveTarget(opts pipeline.Options) (week.Target, error)
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Result, error)
	Events(ctx context.Context, target week.Target) calendar.Result
}

// Server provides the read-only HTTP API of `famdigest serve`.
type Server struct {
	cfg      *config.Config
	runner   Runner
	gatherer prometheus.Gatherer
	mux      *http.ServeMux

	// Previews and event lists are cached per week so repeated requests do
	// not refetch every source.
	cacheMu     sync.RWMutex
	previews    map[string]cachedPreview
	eventsCache map[string]cachedEvents
	cacheTTL    time.Duration

	lastMu  sync.RWMutex
	lastRun *runStatus
}

type cachedPreview struct {
	body      string
	updatedAt time.Time
}

type cachedEvents struct {
	resp      eventsResponse
	updatedAt time.Time
}

// NewServer constructs a new Server. gatherer may be nil, which disables
// /metrics.
func NewServer(cfg *config.Config, runner Runner, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:         cfg,
		runner:      runner,
		gatherer:    gatherer,
		mux:         http.NewServeMux(),
		previews:    make(map[string]cachedPreview),
		eventsCache: make(map[string]cachedEvents),
		cacheTTL:    30 * time.Second,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="famdigest", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/preview", s.handlePreview)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", metrics.Handler(s.gatherer))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview renders the rule-based digest for a week without delivering
// it or touching the snapshot.
//
// GET /api/preview?week=6&year=2026
//   - week: ISO week (default: the coming week)
//   - year: ISO year (default: the current one)
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.weekOptions(w, r)
	if !ok {
		return
	}
	opts.Mode = pipeline.ModeFull
	opts.Preview = true

	target, err := s.runner.ResolveTarget(opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := target.String()

	s.cacheMu.RLock()
	pc, hit := s.previews[key]
	s.cacheMu.RUnlock()
	if hit && time.Since(pc.updatedAt) < s.cacheTTL {
		writeMarkdown(w, pc.body)
		return
	}

	res, err := s.runner.Run(r.Context(), opts)
	if err != nil {
		appLog.Error("api preview failed", err, "week", key)
		writeError(w, http.StatusInternalServerError, "failed to build preview")
		return
	}

	s.cacheMu.Lock()
	s.previews[key] = cachedPreview{body: res.Body, updatedAt: time.Now()}
	s.cacheMu.Unlock()

	writeMarkdown(w, res.Body)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Week            string     `json:"week"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	DisplayTimeZone string     `json:"display_timezone"`
	Events          []eventDTO `json:"events"`
	Errors          []string   `json:"errors,omitempty"`
}

// eventDTO is a JSON-friendly view of an attributed event.
type eventDTO struct {
	Person    string `json:"person"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
	UID       string `json:"uid"`
	Recurring bool   `json:"recurring"`
}

// handleEvents returns the attributed calendar events of a week.
//
// GET /api/events?week=6&year=2026
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.weekOptions(w, r)
	if !ok {
		return
	}
	opts.Mode = pipeline.ModeFull

	target, err := s.runner.ResolveTarget(opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := target.String()

	s.cacheMu.RLock()
	ec, hit := s.eventsCache[key]
	s.cacheMu.RUnlock()
	if hit && time.Since(ec.updatedAt) < s.cacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	appLog.Info("api events request", "week", key, "timezone", target.Location.String())
	res := s.runner.Events(r.Context(), target)

	resp := eventsResponse{
		Week:            key,
		RangeStart:      target.Monday,
		RangeEnd:        target.End(),
		DisplayTimeZone: target.Location.String(),
		Events:          make([]eventDTO, 0, len(res.Events)),
	}
	for _, ev := range res.Events {
		dto := eventDTO{
			Person:    ev.Person,
			Date:      ev.Date.Format("2006-01-02"),
			Title:     ev.Title,
			Location:  ev.Location,
			UID:       ev.SourceUID,
			Recurring: ev.IsRecurrenceInstance,
		}
		if ev.Start != nil {
			dto.Time = ev.Start.Format("15:04")
		}
		resp.Events = append(resp.Events, dto)
	}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}

	// Partial results are not cached so a recovered source shows up on the
	// next request.
	if len(res.Errors) == 0 {
		s.cacheMu.Lock()
		s.eventsCache[key] = cachedEvents{resp: resp, updatedAt: time.Now()}
		s.cacheMu.Unlock()
	}

	writeJSON(w, http.StatusOK, resp)
}

// runStatus is the JSON shape of /api/status.
type runStatus struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	Week        string    `json:"week"`
	FinishedAt  time.Time `json:"finished_at"`
	Delivered   bool      `json:"delivered"`
	State       string    `json:"state,omitempty"`
	Changes     int       `json:"changes"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// RecordRun remembers the outcome of the latest scheduled run.
func (s *Server) RecordRun(res pipeline.Result, err error) {
	st := &runStatus{
		RunID:       res.RunID,
		Mode:        string(res.Mode),
		FinishedAt:  time.Now(),
		Delivered:   res.Delivered,
		State:       string(res.State),
		Changes:     len(res.Changes),
		Diagnostics: res.Diagnostics,
	}
	if res.Target.ISOWeek != 0 {
		st.Week = res.Target.String()
	}
	if err != nil {
		st.Error = err.Error()
	}
	s.lastMu.Lock()
	s.lastRun = st
	s.lastMu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.lastMu.RLock()
	st := s.lastRun
	s.lastMu.RUnlock()
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]any{"last_run": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_run": st})
}

// weekOptions reads ?week= and ?year=. Non-numeric values are rejected.
func (s *Server) weekOptions(w http.ResponseWriter, r *http.Request) (pipeline.Options, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return pipeline.Options{}, false
	}
	q := r.URL.Query()
	wk, err1 := parseIntDefault(q.Get("week"), 0)
	yr, err2 := parseIntDefault(q.Get("year"), 0)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "week and year must be numbers")
		return pipeline.Options{}, false
	}
	return pipeline.Options{Week: wk, Year: yr}, true
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeMarkdown(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
