// Package gateway exposes sessions over WebSocket and a small HTTP status surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/park285/chess-world/internal/config"
	"github.com/park285/chess-world/internal/obslog"
	"github.com/park285/chess-world/internal/render"
	"github.com/park285/chess-world/internal/results"
	"github.com/park285/chess-world/internal/session"
	"go.uber.org/zap"
)

// Options are the connection limits applied to every socket.
type Options struct {
	DefaultGameID   string
	AllowedOrigins  []string
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendQueue       int
}

// OptionsFrom copies the gateway settings out of cfg.
func OptionsFrom(cfg *config.AppConfig) Options {
	return Options{
		DefaultGameID:   cfg.DefaultGameID,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxMessageBytes: cfg.MaxMessageBytes,
		IdleTimeout:     cfg.IdleTimeout,
		PingInterval:    cfg.PingInterval,
		WriteTimeout:    cfg.WriteTimeout,
		SendQueue:       cfg.SendQueue,
	}
}

func (o Options) withDefaults() Options {
	d := config.Defaults()
	if o.DefaultGameID == "" {
		o.DefaultGameID = d.DefaultGameID
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	return o
}

// HealthCheck reports the state of an optional dependency.
type HealthCheck func(ctx context.Context) error

type Server struct {
	store   *session.Store
	opts    Options
	results results.Repository
	checks  map[string]HealthCheck
	started time.Time

	conns atomic.Int64
	r     *chi.Mux
}

type ServerOption func(*Server)

// WithResults exposes finished games under /results.
func WithResults(repo results.Repository) ServerOption {
	return func(s *Server) { s.results = repo }
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

func New(store *session.Store, opts Options, extra ...ServerOption) *Server {
	s := &Server{
		store:   store,
		opts:    opts.withDefaults(),
		checks:  map[string]HealthCheck{},
		started: time.Now(),
		r:       chi.NewRouter(),
	}
	for _, o := range extra {
		o(s)
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)
	s.r.Use(requestLogger)

	s.r.Get("/ws/game", s.handleWS)
	s.r.Get("/ws/game/{gameID}", s.handleWS)

	s.r.Get("/healthz", s.handleHealth)
	s.r.Get("/games", s.handleListGames)
	s.r.Get("/games/{gameID}", s.handleGetGame)
	s.r.Get("/games/{gameID}/board.png", s.handleBoard)
	s.r.Get("/games/{gameID}/results", s.handleGameResults)
	s.r.Get("/results", s.handleRecentResults)

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

// Connections returns the number of open sockets attached to a session.
func (s *Server) Connections() int64 { return s.conns.Load() }

type healthResponse struct {
	Status      string            `json:"status"`
	Sessions    int               `json:"sessions"`
	Peers       int               `json:"peers"`
	Connections int64             `json:"connections"`
	Uptime      string            `json:"uptime"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	resp := healthResponse{
		Status:      "ok",
		Sessions:    st.Sessions,
		Peers:       st.Peers,
		Connections: s.conns.Load(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}
	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "gameID")
	sess, ok := s.store.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "game_not_found", "game_id": id})
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	opts := render.Options{Caption: snap.ID}
	if n := len(snap.MovesUCI); n > 0 {
		opts.LastMove = snap.MovesUCI[n-1]
	}
	if flip, err := strconv.ParseBool(r.URL.Query().Get("flip")); err == nil {
		opts.Flip = flip
	}
	png, err := render.PNG(r.Context(), snap.FEN, opts)
	if err != nil {
		obslog.L().Error("board_render_error", zap.String("game_id", snap.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "render_failed"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleGameResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "results_disabled"})
		return
	}
	recs, err := s.results.ByGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		s.resultsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRecentResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "results_disabled"})
		return
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	recs, err := s.results.Recent(r.Context(), limit)
	if err != nil {
		s.resultsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) resultsError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	obslog.L().Error("results_query_error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "results_unavailable"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request. Upgraded sockets log on disconnect instead.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() == http.StatusSwitchingProtocols {
			return
		}
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
