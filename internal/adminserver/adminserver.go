// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package adminserver exposes a small operator-facing HTTP surface: an
// unauthenticated health check and metrics scrape endpoint, plus a bearer-
// token-guarded debug endpoint and a pair of mutating endpoints
// (force-checkpoint, reload-config).
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/filesource"
	"github.com/flowmesh-io/flowmesh-agent/internal/telemetry"
)

// WatcherLister is the subset of *filesource.FileServer this package
// depends on, so the debug endpoint can be tested without a running file
// source.
type WatcherLister interface {
	Snapshot() []filesource.WatcherState
}

// CheckpointWriter is the subset of a checkpointer this package depends on.
// Both checkpoint.Checkpointer and checkpoint.SQLiteCheckpointer satisfy it,
// so the admin surface does not need to know which backend is configured.
type CheckpointWriter interface {
	WriteCheckpoints() (int, error)
}

// Reloader applies a freshly-read configuration file on request. Returns an
// error if the new file could not be read or decoded.
type Reloader func() error

// Config configures the admin server. Username, Password and JwtSecret
// follow the same bootstrap-credential shape the config package already
// defines for AdminServerConfig.
type Config struct {
	Username  string
	Password  string // bcrypt hash
	JwtSecret string
	TokenTTL  time.Duration
	// RatePerSecond and RateBurst bound the whole admin surface with a single
	// shared token bucket; a dashboard polling /healthz and /metrics at a
	// sane interval never notices it, a misbehaving client hammering
	// /admin/force-checkpoint does. Zero RatePerSecond disables the limiter.
	RatePerSecond float64
	RateBurst     int
}

// Server is the admin HTTP surface.
type Server struct {
	cfg       Config
	telemetry *telemetry.Registry
	watchers  WatcherLister
	ckpt      CheckpointWriter
	reload    Reloader

	signingKey []byte
	limiter    *rate.Limiter
}

// New builds a Server. telemetry, watchers, ckpt and reload may be nil.
// With a nil telemetry registry /metrics is not registered; the endpoints
// that depend on a nil watchers, ckpt or reload respond 503 instead of
// panicking.
func New(cfg Config, reg *telemetry.Registry, watchers WatcherLister, ckpt CheckpointWriter, reload Reloader) *Server {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	s := &Server{
		cfg:        cfg,
		telemetry:  reg,
		watchers:   watchers,
		ckpt:       ckpt,
		reload:     reload,
		signingKey: []byte(cfg.JwtSecret),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return s
}

// rateLimit rejects a request with 429 once the shared token bucket is
// empty. A nil limiter (RatePerSecond == 0) passes every request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler builds the routed HTTP handler, following the same
// router assembly: a gorilla/mux router, a subrouter for the endpoints that
// require a bearer token, and the compression/logging middleware wrapped
// around the whole thing.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.telemetry != nil {
		r.Handle("/metrics", s.telemetry.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	secured := r.PathPrefix("/").Subrouter()
	secured.Use(s.requireBearerToken)
	secured.HandleFunc("/debug/watchers", s.handleDebugWatchers).Methods(http.MethodGet)
	secured.HandleFunc("/admin/force-checkpoint", s.handleForceCheckpoint).Methods(http.MethodPost)
	secured.HandleFunc("/admin/reload-config", s.handleReloadConfig).Methods(http.MethodPost)

	r.Use(handlers.CompressHandler)
	r.Use(s.rateLimit)
	return handlers.CustomLoggingHandler(cclog.InfoWriter, r, func(w io.Writer, params handlers.LogFormatterParams) {
		fmt.Fprintf(w, "%s %s (Response: %d, Size: %d)\n", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleLogin checks the static bootstrap credential with bcrypt, the same
// idiom a local password authenticator uses, then issues a
// short-lived HS256 bearer token for the mutating endpoints.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		http.Error(w, "admin login not configured", http.StatusServiceUnavailable)
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if username != s.cfg.Username {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Password), []byte(password)); err != nil {
		cclog.Warnf("[ADMINSERVER]> login failed for user %s", username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.TokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		http.Error(w, "could not sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// requireBearerToken parses and validates an HS256 JWT from the
// Authorization header, following the same Bearer-prefix-stripping and
// jwt.Parse idiom as a token authenticator.
func (s *Server) requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
			}
			return s.signingKey, nil
		})
		if err != nil || !token.Valid {
			cclog.Warnf("[ADMINSERVER]> rejected token: %s", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDebugWatchers(w http.ResponseWriter, r *http.Request) {
	if s.watchers == nil {
		http.Error(w, "file source not wired", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.watchers.Snapshot())
}

func (s *Server) handleForceCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.ckpt == nil {
		http.Error(w, "checkpointer not wired", http.StatusServiceUnavailable)
		return
	}
	n, err := s.ckpt.WriteCheckpoints()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"written": n})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		http.Error(w, "reload not wired", http.StatusServiceUnavailable)
		return
	}
	if err := s.reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run serves the admin HTTP surface on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
