// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natssink implements a Sink node that publishes events onto a NATS
// subject, one NATS message per event, JSON-encoded.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	natsgo "github.com/nats-io/nats.go"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

// Publisher is the subset of *nats.Conn this sink depends on, so tests can
// substitute a fake connection instead of a running NATS server.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes every event it receives onto Subject as a JSON document.
type Sink struct {
	Conn    Publisher
	Subject string
}

// Connect dials addr using the same connection options a long-lived
// pkg/nats client registers (error/disconnect/reconnect logging), and
// returns a Sink ready to publish onto subject.
func Connect(addr, subject string) (*Sink, error) {
	if addr == "" {
		return nil, fmt.Errorf("nats sink: address is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("nats sink: subject is required")
	}

	nc, err := natsgo.Connect(addr,
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				cclog.Warnf("[SINK.NATS]> disconnected: %s", err)
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			cclog.Infof("[SINK.NATS]> reconnected to %s", c.ConnectedUrl())
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
			cclog.Errorf("[SINK.NATS]> %s", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect: %w", err)
	}

	return &Sink{Conn: nc, Subject: subject}, nil
}

// envelope is the JSON shape published for every event: kind discriminates
// how fields should be read back on the subscriber side.
type envelope struct {
	Kind   string         `json:"kind"`
	Source string         `json:"source,omitempty"`
	Fields map[string]any `json:"fields"`
}

func encode(ev event.Event) ([]byte, error) {
	env := envelope{Fields: map[string]any{}}
	if ev.IsLog() {
		env.Kind = "log"
		env.Source = ev.Log.Source
		env.Fields = event.ToMap(ev.Log.Object)
	} else {
		env.Kind = "metric"
		env.Fields = event.ToMap(event.NewMetricObject(ev.Metric))
	}
	return json.Marshal(env)
}

// Run implements dag.Sink.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			data, err := encode(ev)
			if err != nil {
				cclog.Warnf("[SINK.NATS]> encoding event: %s", err)
				continue
			}
			if err := s.Conn.Publish(s.Subject, data); err != nil {
				return fmt.Errorf("nats sink: publish to %q: %w", s.Subject, err)
			}
		}
	}
}
