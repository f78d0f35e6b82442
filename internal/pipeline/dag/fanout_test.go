// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

type recordingSink struct {
	mu  sync.Mutex
	got []event.Event
}

func (r *recordingSink) Run(ctx context.Context, in <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			r.mu.Lock()
			r.got = append(r.got, ev)
			r.mu.Unlock()
		}
	}
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestFanOutSinkCopiesToEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	fan := &FanOutSink{Sinks: []Sink{a, b}, Names: []string{"a", "b"}}

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan event.Event, 4)
	done := make(chan error, 1)
	go func() { done <- fan.Run(ctx, in) }()

	in <- event.NewLogEvent("x")
	in <- event.NewLogEvent("y")
	close(in)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fanout did not return after input closed")
	}
	cancel()

	if a.count() != 2 || b.count() != 2 {
		t.Fatalf("expected both sinks to see 2 events, got a=%d b=%d", a.count(), b.count())
	}
}

func TestFanOutSinkStopsOnContextCancel(t *testing.T) {
	a := &recordingSink{}
	fan := &FanOutSink{Sinks: []Sink{a}, Names: []string{"a"}}

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan event.Event)
	done := make(chan error, 1)
	go func() { done <- fan.Run(ctx, in) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fanout did not stop on context cancel")
	}
}
