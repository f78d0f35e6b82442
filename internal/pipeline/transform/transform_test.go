// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transform

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

func logEvent(source, message string) event.Event {
	ev := event.NewLogEvent(source)
	ev.Log.Object.Insert(event.Path{event.Field("message")}, event.BytesValue(message))
	return ev
}

func runOne(t *testing.T, tr *ExprTransform, in event.Event) *event.Event {
	t.Helper()
	next, err := tr.apply(in)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return next
}

func TestNewEmptyExpressionIsNoOp(t *testing.T) {
	tr, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := logEvent("app.log", "hello")
	out := runOne(t, tr, in)
	if out == nil {
		t.Fatalf("expected event to pass through, got drop")
	}
}

func TestBooleanExpressionDropsEvent(t *testing.T) {
	tr, err := New(`source != "noisy.log"`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	kept := runOne(t, tr, logEvent("app.log", "hello"))
	if kept == nil {
		t.Fatalf("expected app.log event to be kept")
	}

	dropped := runOne(t, tr, logEvent("noisy.log", "hello"))
	if dropped != nil {
		t.Fatalf("expected noisy.log event to be dropped")
	}
}

func TestBooleanExpressionFiltersOnFieldValue(t *testing.T) {
	tr, err := New(`message contains "error"`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	kept := runOne(t, tr, logEvent("app.log", "an error occurred"))
	if kept == nil {
		t.Fatalf("expected error line to be kept")
	}

	dropped := runOne(t, tr, logEvent("app.log", "all fine"))
	if dropped != nil {
		t.Fatalf("expected non-error line to be dropped")
	}
}

func TestMapExpressionRewritesFields(t *testing.T) {
	tr, err := New(`{"severity": "high"}`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := logEvent("app.log", "boom")
	out := runOne(t, tr, in)
	if out == nil {
		t.Fatalf("expected event to be kept")
	}

	v, ok := out.Log.Object.Get(event.Path{event.Field("severity")})
	if !ok {
		t.Fatalf("expected severity field to be set")
	}
	if string(v.(event.BytesValue)) != "high" {
		t.Fatalf("got severity %v, want high", v)
	}
}

func TestMetricEventExposesNameAndTags(t *testing.T) {
	tr, err := New(`name == "requests_total" and tags.region == "eu"`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := event.NewMetric("requests_total", event.Absolute, event.Counter{Value: 3})
	m.SetTag("region", "eu")
	ev := event.NewMetricEvent(m)

	kept := runOne(t, tr, ev)
	if kept == nil {
		t.Fatalf("expected metric event to be kept")
	}

	m2 := event.NewMetric("requests_total", event.Absolute, event.Counter{Value: 3})
	m2.SetTag("region", "us")
	dropped := runOne(t, tr, event.NewMetricEvent(m2))
	if dropped != nil {
		t.Fatalf("expected us-region metric to be dropped")
	}
}

func TestRunForwardsKeptAndDropsFiltered(t *testing.T) {
	tr, err := New(`source != "noisy.log"`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan event.Event, 2)
	out := make(chan event.Event, 2)

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, in, out) }()

	in <- logEvent("noisy.log", "drop me")
	in <- logEvent("app.log", "keep me")

	select {
	case got := <-out:
		if got.Log.Source != "app.log" {
			t.Fatalf("got source %q, want app.log", got.Log.Source)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for kept event")
	}

	select {
	case got := <-out:
		t.Fatalf("unexpected second event on out: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(in)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after input closed")
	}
}
