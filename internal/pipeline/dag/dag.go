// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dag wires Source, Transform, and Sink nodes into a running
// pipeline and coordinates their shutdown. Each node runs as its own
// goroutine connected to its neighbors by typed event channels; a
// Coordinator distributes one context.Context cancellation to every node and
// waits for all of them to drain before returning, the same
// context.WithCancel + sync.WaitGroup + select-on-ctx.Done shape the
// checkpoint writer and line aggregator already use.
package dag

import (
	"context"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
	"github.com/flowmesh-io/flowmesh-agent/internal/telemetry"
)

// Source produces events onto out until ctx is cancelled, then returns after
// any final work (a checkpoint flush, for example) is complete.
type Source interface {
	Run(ctx context.Context, out chan<- event.Event) error
}

// Transform consumes events from in, applies some transformation, and
// forwards results to out. It must return once in is closed or ctx is
// cancelled, and must close out before returning so downstream nodes observe
// end-of-stream.
type Transform interface {
	Run(ctx context.Context, in <-chan event.Event, out chan<- event.Event) error
}

// Sink consumes events from in until it is closed or ctx is cancelled.
type Sink interface {
	Run(ctx context.Context, in <-chan event.Event) error
}

// Coordinator owns every node's goroutine and the channels between them. Node
// failures are recorded but do not individually stop other nodes; Shutdown
// (or context cancellation) is the only way to stop the whole pipeline
// deliberately.
type Coordinator struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	errs []error

	telemetry *telemetry.Registry
}

// NewCoordinator derives a cancellable context from parent for the whole
// pipeline's lifetime.
func NewCoordinator(parent context.Context) (*Coordinator, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{cancel: cancel}, ctx
}

// WithTelemetry attaches a metrics registry that records a counter for every
// node that exits with an error. Call before adding any node.
func (c *Coordinator) WithTelemetry(reg *telemetry.Registry) *Coordinator {
	c.telemetry = reg
	return c
}

func (c *Coordinator) spawn(ctx context.Context, name string, run func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := run(ctx); err != nil {
			cclog.Errorf("[DAG]> node %q exited with error: %s", name, err)
			c.mu.Lock()
			c.errs = append(c.errs, fmt.Errorf("%s: %w", name, err))
			c.mu.Unlock()
			if c.telemetry != nil {
				c.telemetry.NodeError(name)
			}
		} else {
			cclog.Debugf("[DAG]> node %q exited cleanly", name)
		}
	}()
}

// AddSource spawns src's goroutine, sending onto a newly created channel of
// the given buffer size.
func (c *Coordinator) AddSource(ctx context.Context, name string, src Source, bufSize int) <-chan event.Event {
	out := make(chan event.Event, bufSize)
	c.spawn(ctx, name, func(ctx context.Context) error {
		defer close(out)
		return src.Run(ctx, out)
	})
	return out
}

// AddTransform spawns tr's goroutine reading from in and returns the channel
// it writes to.
func (c *Coordinator) AddTransform(ctx context.Context, name string, tr Transform, in <-chan event.Event, bufSize int) <-chan event.Event {
	out := make(chan event.Event, bufSize)
	c.spawn(ctx, name, func(ctx context.Context) error {
		return tr.Run(ctx, in, out)
	})
	return out
}

// AddSink spawns sk's goroutine reading from in.
func (c *Coordinator) AddSink(ctx context.Context, name string, sk Sink, in <-chan event.Event) {
	c.spawn(ctx, name, func(ctx context.Context) error {
		return sk.Run(ctx, in)
	})
}

// Shutdown cancels the pipeline's context and blocks until every node has
// returned.
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// Wait blocks until every node has returned on its own (for example because
// every Source reached end-of-input), without cancelling anything.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Errors returns every node error observed so far. Safe to call concurrently
// with running nodes.
func (c *Coordinator) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}
