// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transform implements a generic expr-lang based Transform node: one
// user-supplied expression evaluated against every event, used as either a
// filter (boolean result) or a light field rewrite (map result).
package transform

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

// ExprTransform evaluates a single compiled expression against every event
// that passes through it. A bool result keeps (true) or drops (false) the
// event; a map[string]any result is merged into the event's own fields and
// the (possibly rewritten) event is kept. Any other result, or no compiled
// expression at all, passes the event through unchanged.
type ExprTransform struct {
	program *vm.Program
}

// New compiles exprStr once. An empty exprStr is valid and produces a
// no-op transform (every event passes through unchanged), so a pipeline
// with no configured expression can still wire this node in uniformly.
func New(exprStr string) (*ExprTransform, error) {
	if exprStr == "" {
		return &ExprTransform{}, nil
	}
	program, err := expr.Compile(exprStr, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling transform expression: %w", err)
	}
	return &ExprTransform{program: program}, nil
}

// Run implements dag.Transform.
func (t *ExprTransform) Run(ctx context.Context, in <-chan event.Event, out chan<- event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			next, err := t.apply(ev)
			if err != nil {
				cclog.Warnf("[TRANSFORM]> %s, forwarding event unchanged", err)
				next = &ev
			}
			if next == nil {
				continue
			}
			select {
			case out <- *next:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// apply evaluates the compiled expression against ev. A nil, nil return
// means ev should be dropped.
func (t *ExprTransform) apply(ev event.Event) (*event.Event, error) {
	if t.program == nil {
		return &ev, nil
	}

	obj := objectFor(ev)
	env := buildEnvMap(obj)
	env["kind"] = kindName(ev)
	if ev.IsLog() {
		env["source"] = ev.Log.Source
	}

	result, err := expr.Run(t.program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating transform expression: %w", err)
	}

	switch v := result.(type) {
	case bool:
		if !v {
			return nil, nil
		}
		return &ev, nil
	case map[string]any:
		if err := applyRewrite(obj, v); err != nil {
			return nil, fmt.Errorf("applying transform rewrite: %w", err)
		}
		return &ev, nil
	default:
		return &ev, nil
	}
}

func objectFor(ev event.Event) event.Object {
	if ev.IsLog() {
		return ev.Log.Object
	}
	return event.NewMetricObject(ev.Metric)
}

func kindName(ev event.Event) string {
	if ev.IsLog() {
		return "log"
	}
	return "metric"
}

func applyRewrite(obj event.Object, fields map[string]any) error {
	for k, v := range fields {
		lv, ok := anyToLogValue(v)
		if !ok {
			continue
		}
		if err := obj.Insert(event.Path{event.Field(k)}, lv); err != nil {
			return err
		}
	}
	return nil
}
