// Package api is the replica server's HTTP surface.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ember/heatsync/internal/sync"
)

// Store is the record store the server serves from. *serverdb.Store
// implements it; tests substitute a fake.
type Store interface {
	Ping() error
	ApplyChange(change *sync.ChangePayload) (sync.PushResult, error)
	ChangesSince(afterSeq int64, limit int, excludeDevice string) (*sync.PullResponse, error)
	Stats() (count int64, lastSeq int64, lastChange *time.Time, err error)
	RegisterDevice(deviceID, deviceName string) error
	TouchDevice(deviceID string) error
}

// Config holds the replica server configuration.
type Config struct {
	ListenAddr string
	JWTSecret  []byte
	// PairCode is the shared secret a device presents to link. Rotating it
	// invalidates future links only; issued tokens live out their TTL.
	PairCode string
	TokenTTL time.Duration
}

// Server is the replica HTTP server.
type Server struct {
	config Config
	store  Store
	http   *http.Server
}

// NewServer creates a replica server over the given store.
func NewServer(cfg Config, store Store) (*Server, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	s := &Server{config: cfg, store: store}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the server's HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/devices/link", s.handleLink)

	mux.HandleFunc("POST /v1/sync/push", s.requireAuth(s.handleSyncPush))
	mux.HandleFunc("GET /v1/sync/pull", s.requireAuth(s.handleSyncPull))
	mux.HandleFunc("GET /v1/sync/status", s.requireAuth(s.handleSyncStatus))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware,
		loggingMiddleware, maxBytesMiddleware(10<<20))
}

// handleHealth returns a health check response, pinging the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// linkRequest is the body for POST /v1/devices/link.
type linkRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	PairCode   string `json:"pair_code"`
}

// handleLink exchanges a pairing code for a device token.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "device_id is required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.PairCode), []byte(s.config.PairCode)) != 1 {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid pair code")
		return
	}

	if err := s.store.RegisterDevice(req.DeviceID, req.DeviceName); err != nil {
		logFor(r.Context()).Error("register device", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to register device")
		return
	}

	token, expires, err := s.issueToken(req.DeviceID, time.Now())
	if err != nil {
		logFor(r.Context()).Error("issue token", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to issue token")
		return
	}

	logFor(r.Context()).Info("device linked", "device", req.DeviceID)
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}
