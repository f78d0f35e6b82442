// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesIncrementedCounters(t *testing.T) {
	reg := NewRegistry()
	reg.EventProcessed("filesource", "log")
	reg.EventProcessed("filesource", "log")
	reg.EventDropped("transform", "expression_false")
	reg.NodeError("sink.nats")
	reg.ObserveCheckpointWrite(0.05)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`flowmesh_events_processed_total{kind="log",node="filesource"} 2`,
		`flowmesh_events_dropped_total{node="transform",reason="expression_false"} 1`,
		`flowmesh_node_errors_total{node="sink.nats"} 1`,
		"flowmesh_checkpoint_write_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got:\n%s", want, body)
		}
	}
}

func TestHandlerServesBuildInfo(t *testing.T) {
	SetBuildInfo("1.2.3", "abcdef", "main", "2026-01-01")
	reg := NewRegistry()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "flowmesh_build_info") {
		t.Fatalf("expected build info metric in output, got:\n%s", body)
	}
	if !strings.Contains(body, `version="1.2.3"`) {
		t.Fatalf("expected version label in build info metric, got:\n%s", body)
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.EventProcessed("src", "log")
	b.EventProcessed("src", "metric")

	reqA := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recB := httptest.NewRecorder()
	b.Handler().ServeHTTP(recB, reqB)

	if !strings.Contains(recA.Body.String(), `kind="log"`) {
		t.Fatalf("registry a missing its own counter")
	}
	if !strings.Contains(recB.Body.String(), `kind="metric"`) {
		t.Fatalf("registry b missing its own counter")
	}
}
