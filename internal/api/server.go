// Package api provides the HTTP API for session play.
// Callers identify themselves with the X-Player-ID header, set by the
// authentication layer in front of this service. Host-only operations
// check that player against the session's host.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/talgya/war-room/internal/engine"
	"github.com/talgya/war-room/internal/metrics"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/registry"
)

// PlayerHeader carries the caller's player id.
const PlayerHeader = "X-Player-ID"

// Server serves session operations over HTTP.
type Server struct {
	Engine    *engine.Engine
	Scenarios *registry.Registry
	Hub       *notify.Hub
	Metrics   metrics.HTTP
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Limiter        *RateLimiter

	Addr        string
	CORSOrigins []string
	Version     string

	started time.Time
}

// Handler builds the routed, rate limited, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	if s.Metrics == nil {
		s.Metrics = metrics.Noop{}
	}

	router := mux.NewRouter().StrictSlash(true)
	if s.MetricsHandler != nil {
		router.Handle("/metrics", s.MetricsHandler).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.instrument)
	if s.Limiter != nil {
		v1.Use(s.Limiter.Middleware)
	}

	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/scenarios", s.handleScenarios).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", s.handleLobby).Methods(http.MethodGet)

	sess := v1.PathPrefix("/sessions/{id}").Subrouter()
	sess.HandleFunc("/join", s.handleJoin).Methods(http.MethodPost)
	sess.HandleFunc("/nations", s.hostOnly(s.handleAssignNation)).Methods(http.MethodPost)
	sess.HandleFunc("/current-nation", s.handleCurrentNation).Methods(http.MethodPost)
	sess.HandleFunc("/max-players", s.hostOnly(s.handleMaxPlayers)).Methods(http.MethodPost)
	sess.HandleFunc("/start", s.hostOnly(s.handleStart)).Methods(http.MethodPost)
	sess.HandleFunc("/finish", s.hostOnly(s.handleFinish)).Methods(http.MethodPost)
	sess.HandleFunc("/phase-status", s.handlePhaseStatus).Methods(http.MethodGet)
	sess.HandleFunc("/commit", s.handleCommit).Methods(http.MethodPost)
	sess.HandleFunc("/uncommit", s.handleUncommit).Methods(http.MethodPost)
	sess.HandleFunc("/advance", s.hostOnly(s.handleAdvance)).Methods(http.MethodPost)
	sess.HandleFunc("/income", s.handlePreviewIncome).Methods(http.MethodGet)
	sess.HandleFunc("/income/apply", s.handleApplyIncome).Methods(http.MethodPost)
	sess.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	if s.Hub != nil {
		sess.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	}

	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedHeaders: []string{"Content-Type", PlayerHeader},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "cors", s.CORSOrigins, "metrics", s.MetricsHandler != nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("HTTP API shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// hostOnly rejects callers who are not the session host.
func (s *Server) hostOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.Engine.IsHost(r.Context(), mux.Vars(r)["id"], r.Header.Get(PlayerHeader))
		if err != nil {
			fail(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "not_host", "only the host may do this", nil)
			return
		}
		next(w, r)
	}
}

// instrument records request latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.Metrics.RequestDuration(route, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
