// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/checkpoint"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/filesource"
	"github.com/flowmesh-io/flowmesh-agent/internal/telemetry"
)

type fakeWatchers struct {
	states []filesource.WatcherState
}

func (f fakeWatchers) Snapshot() []filesource.WatcherState { return f.states }

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword: %v", err)
	}
	return string(h)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Config{
		Username:  "admin",
		Password:  hashPassword(t, "hunter2"),
		JwtSecret: "test-signing-key",
		TokenTTL:  time.Minute,
	}, telemetry.NewRegistry(), fakeWatchers{states: []filesource.WatcherState{{Path: "/var/log/app.log"}}}, nil, nil)
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDebugWatchersRequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/watchers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func login(t *testing.T, s *Server, username, password string) string {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return body["token"]
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}

func TestDebugWatchersWithValidTokenReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodGet, "/debug/watchers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var states []filesource.WatcherState
	if err := json.NewDecoder(rec.Body).Decode(&states); err != nil {
		t.Fatalf("decoding watcher snapshot: %v", err)
	}
	if len(states) != 1 || states[0].Path != "/var/log/app.log" {
		t.Fatalf("unexpected watcher snapshot: %+v", states)
	}
}

func TestForceCheckpointWithoutCheckpointerIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/admin/force-checkpoint", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no checkpointer wired, got %d", rec.Code)
	}
}

func TestForceCheckpointWritesCheckpoints(t *testing.T) {
	dir := t.TempDir()
	ckpt := checkpoint.New(dir, 2)
	s := New(Config{
		Username:  "admin",
		Password:  hashPassword(t, "hunter2"),
		JwtSecret: "test-signing-key",
	}, nil, nil, ckpt, nil)
	token := login(t, s, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/admin/force-checkpoint", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReloadConfigInvokesReloader(t *testing.T) {
	called := false
	s := New(Config{
		Username:  "admin",
		Password:  hashPassword(t, "hunter2"),
		JwtSecret: "test-signing-key",
	}, nil, nil, nil, func() error { called = true; return nil })
	token := login(t, s, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if !called {
		t.Fatalf("expected reloader to be invoked")
	}
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	s := New(Config{RatePerSecond: 1, RateBurst: 2}, nil, nil, nil, nil)

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests within burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be rate limited, got %v", codes)
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with no rate limit configured, got %d", i, rec.Code)
		}
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not shut down after cancel")
	}
}
