// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/lineagg"
	"github.com/flowmesh-io/flowmesh-agent/internal/telemetry"
)

// failingSink always returns an error, to exercise error recording.
type failingSink struct{}

func (failingSink) Run(ctx context.Context, in <-chan event.Event) error {
	<-in
	return errBoom
}

var errBoom = errBoomType("boom")

type errBoomType string

func (e errBoomType) Error() string { return string(e) }

// fixedSource emits a fixed slice of events, then waits for ctx.Done before
// returning, as a real long-lived Source would.
type fixedSource struct {
	events []event.Event
}

func (s *fixedSource) Run(ctx context.Context, out chan<- event.Event) error {
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

// collectSink appends every event it receives to a slice, guarded by a mutex
// since the coordinator reads it from the test goroutine after Shutdown.
type collectSink struct {
	mu   sync.Mutex
	got  []event.Event
	done chan struct{}
}

func newCollectSink() *collectSink { return &collectSink{done: make(chan struct{})} }

func (s *collectSink) Run(ctx context.Context, in <-chan event.Event) error {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			s.mu.Lock()
			s.got = append(s.got, ev)
			s.mu.Unlock()
		case <-ctx.Done():
			return nil
		}
	}
}

func logLine(source, message string) event.Event {
	ev := event.NewLogEvent(source)
	ev.Log.Object.Insert(event.Path{event.Field("message")}, event.BytesValue(message))
	return ev
}

func messageOf(t *testing.T, ev event.Event) string {
	t.Helper()
	v, ok := ev.Log.Object.Get(event.Path{event.Field("message")})
	if !ok {
		t.Fatalf("event has no message field")
	}
	b, ok := v.(event.BytesValue)
	if !ok {
		t.Fatalf("message field is not bytes")
	}
	return string(b)
}

func TestCoordinatorWiresSourceTransformSink(t *testing.T) {
	src := &fixedSource{events: []event.Event{
		logLine("test.log", "first part"),
		logLine("test.log", " second part"),
		logLine("test.log", "independent line"),
	}}
	sink := newCollectSink()

	coord, ctx := NewCoordinator(context.Background())
	cfg := lineagg.Config{
		StartPattern:     regexp.MustCompile(`^\S`),
		ConditionPattern: regexp.MustCompile(`^\s+`),
		Mode:             lineagg.ContinueThrough,
		Timeout:          time.Second,
	}
	srcOut := coord.AddSource(ctx, "source", src, 4)
	aggOut := coord.AddTransform(ctx, "lineagg", &LineAggTransform{Config: cfg}, srcOut, 4)
	coord.AddSink(ctx, "sink", sink, aggOut)

	select {
	case <-sink.done:
		t.Fatalf("sink exited before shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	coord.Shutdown()
	<-sink.done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(sink.got), sink.got)
	}
	if got := messageOf(t, sink.got[0]); got != "first part\n second part" {
		t.Fatalf("unexpected first event: %q", got)
	}
	if got := messageOf(t, sink.got[1]); got != "independent line" {
		t.Fatalf("unexpected second event: %q", got)
	}

	if errs := coord.Errors(); len(errs) != 0 {
		t.Fatalf("unexpected node errors: %v", errs)
	}
}

func TestLineAggTransformPassesMetricsThrough(t *testing.T) {
	in := make(chan event.Event, 1)
	out := make(chan event.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())

	tr := &LineAggTransform{Config: lineagg.ForLegacy(regexp.MustCompile(`^X`), time.Second)}
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, in, out)
		close(done)
	}()

	m := event.NewMetric("requests", event.Incremental, event.Counter{Value: 1})
	in <- event.NewMetricEvent(m)

	select {
	case ev := <-out:
		if !ev.IsMetric() {
			t.Fatalf("expected metric event to pass through untouched")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for passthrough metric")
	}

	close(in)
	<-done
	cancel()
}

func TestCoordinatorRecordsNodeErrorsInTelemetry(t *testing.T) {
	reg := telemetry.NewRegistry()
	coord, ctx := NewCoordinator(context.Background())
	coord.WithTelemetry(reg)

	in := make(chan event.Event, 1)
	coord.AddSink(ctx, "sink.failing", failingSink{}, in)
	in <- logLine("test.log", "trigger")

	deadline := time.After(time.Second)
	for {
		coord.mu.Lock()
		n := len(coord.errs)
		coord.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for node error to be recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `flowmesh_node_errors_total{node="sink.failing"} 1`) {
		t.Fatalf("expected node error counter in output, got:\n%s", rec.Body.String())
	}
}
