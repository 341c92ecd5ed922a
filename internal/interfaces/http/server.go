// Package http exposes the engine over a small JSON API: async backtest
// submission, progress streaming (SSE and websocket), the factor catalogue
// and operational endpoints.
package http

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// DefaultServerConfig returns local-only defaults. WriteTimeout is absent on
// purpose: SSE and websocket connections outlive any fixed deadline.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:        "127.0.0.1",
		Port:        8080,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// Server is the HTTP front of the backtest service.
type Server struct {
	router *mux.Router
	server *http.Server
	api    *API
	config ServerConfig
	log    zerolog.Logger
}

// NewServer wires routes and middleware around the API.
func NewServer(config ServerConfig, api *API, log zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		api:    api,
		config: config,
		log:    log.With().Str("component", "http").Logger(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:     s.router,
		ReadTimeout: config.ReadTimeout,
		IdleTimeout: config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/backtests", s.api.CreateBacktest).Methods("POST")
	api.HandleFunc("/backtests/{id}", s.api.GetBacktest).Methods("GET")
	api.HandleFunc("/backtests/{id}", s.api.CancelBacktest).Methods("DELETE")
	api.HandleFunc("/backtests/{id}/events", s.api.StreamEvents).Methods("GET")
	api.HandleFunc("/backtests/{id}/ws", s.api.StreamWS).Methods("GET")
	api.HandleFunc("/factors", s.api.Factors).Methods("GET")
	api.HandleFunc("/universes", s.api.Universes).Methods("GET")

	s.router.HandleFunc("/health", s.api.Health).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
