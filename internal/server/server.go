// Package server exposes the fleet and media library over HTTP: a JSON
// API behind JWT bearer auth plus a WebSocket feed of coalesced change
// batches.
package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/colmturner/sonos-fleet-go/internal/api"
	"github.com/colmturner/sonos-fleet-go/internal/auth"
	"github.com/colmturner/sonos-fleet-go/internal/config"
	"github.com/colmturner/sonos-fleet-go/internal/db"
	"github.com/colmturner/sonos-fleet-go/internal/fleet"
	"github.com/colmturner/sonos-fleet-go/internal/library"
)

// Subscription is a live change feed handed to one API client.
type Subscription interface {
	Changes() <-chan []fleet.Change
	Close()
}

// Engine is the fleet surface the API serves.
type Engine interface {
	Players() []fleet.PlayerState
	PlayerByName(name string) (fleet.PlayerState, error)
	ChangesSince(seq int64) ([]fleet.Change, error)
	EnqueueCommand(name, command string, args []string) (string, error)
	Subscribe(opts fleet.SubscribeOptions) ([]fleet.PlayerState, Subscription, error)
	ListenState() string
}

// Library is the media catalogue surface the API serves.
type Library interface {
	Search(query string) ([]library.Album, error)
	Album(id int64) (library.Album, error)
	Artwork(id int64) ([]byte, error)
}

// ModelEngine adapts *fleet.Model to Engine. The adapter exists because
// Model.Subscribe returns the concrete subscriber type.
type ModelEngine struct {
	*fleet.Model
}

// Subscribe implements Engine.
func (e ModelEngine) Subscribe(opts fleet.SubscribeOptions) ([]fleet.PlayerState, Subscription, error) {
	players, sub, err := e.Model.Subscribe(opts)
	if err != nil {
		return nil, nil, err
	}
	return players, sub, nil
}

// Deps carries the already-constructed services the handlers call into.
type Deps struct {
	Engine  Engine
	Library Library
	DB      *db.DBPair
	Rescan  func() error // nil when library scanning is disabled
	Logger  *log.Logger
}

// Service holds the HTTP handlers.
type Service struct {
	cfg  config.Config
	deps Deps
}

// NewHandler builds the full HTTP handler.
func NewHandler(cfg config.Config, deps Deps) http.Handler {
	service := &Service{cfg: cfg, deps: deps}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(service.requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	router.Method(http.MethodGet, "/api/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))

	auth.RegisterRoutes(router, cfg)
	service.registerFleetRoutes(router)
	service.registerMediaRoutes(router)
	router.Get("/api/ws", service.handleWebSocket)

	return router
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the WebSocket upgrade works behind the
// logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (s *Service) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.deps.Logger.Printf("HTTP: %s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// systemStatus reads the key/value status table.
func (s *Service) systemStatus() (map[string]string, error) {
	rows, err := s.deps.DB.Reader().Query(`SELECT key, value FROM system_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	status := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		status[key] = value
	}
	return status, rows.Err()
}

func (s *Service) setSystemStatus(key, value string) {
	_, err := s.deps.DB.Writer().Exec(
		`INSERT INTO system_status (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		s.deps.Logger.Printf("HTTP: update system status %s: %v", key, err)
	}
}
