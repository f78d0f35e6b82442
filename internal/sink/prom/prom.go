// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package promsink implements a Sink node that exposes every metric event it
// ingests as a Prometheus series on an HTTP scrape endpoint, distinct from
// internal/telemetry which reports the agent's own operational health.
package promsink

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

// snapshot is the last observed value of one metric series.
type snapshot struct {
	name        string
	help        string
	kind        prometheus.ValueType
	value       float64
	labelNames  []string
	labelValues []string
}

// Sink is a prometheus.Collector whose descriptor set is built dynamically
// from whatever metric names have actually been observed, the same
// "unchecked collector" shape the Prometheus client library documents for
// collectors with metrics determined at runtime rather than known upfront.
type Sink struct {
	mu      sync.Mutex
	metrics map[string]*snapshot
}

func New() *Sink {
	return &Sink{metrics: map[string]*snapshot{}}
}

// Run implements dag.Sink. Log events carry no Prometheus representation and
// are ignored.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if !ev.IsMetric() {
				continue
			}
			s.observe(ev.Metric)
		}
	}
}

func (s *Sink) observe(m *event.Metric) {
	names, values := tagLabels(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := m.Value.(type) {
	case event.Counter:
		s.set(m.Name, "Ingested counter metric "+m.Name, prometheus.CounterValue, v.Value, names, values)
	case event.Gauge:
		s.set(m.Name, "Ingested gauge metric "+m.Name, prometheus.GaugeValue, v.Value, names, values)
	case event.Set:
		s.set(m.Name, "Cardinality of ingested set metric "+m.Name, prometheus.GaugeValue, float64(len(v.Values)), names, values)
	case event.Distribution:
		s.set(m.Name+"_count", "Sample count of "+m.Name, prometheus.GaugeValue, float64(len(v.Values)), names, values)
		s.set(m.Name+"_sum", "Sample sum of "+m.Name, prometheus.GaugeValue, sumFloats(v.Values), names, values)
	case event.AggregatedHistogram:
		s.set(m.Name+"_count", "Observation count of "+m.Name, prometheus.GaugeValue, float64(v.Count), names, values)
		s.set(m.Name+"_sum", "Observation sum of "+m.Name, prometheus.GaugeValue, v.Sum, names, values)
	case event.AggregatedSummary:
		s.set(m.Name+"_count", "Observation count of "+m.Name, prometheus.GaugeValue, float64(v.Count), names, values)
		s.set(m.Name+"_sum", "Observation sum of "+m.Name, prometheus.GaugeValue, v.Sum, names, values)
	}
}

// set must be called with s.mu held.
func (s *Sink) set(name, help string, kind prometheus.ValueType, value float64, labelNames, labelValues []string) {
	key := name + "|" + strings.Join(labelValues, ",")
	s.metrics[key] = &snapshot{
		name:        sanitizeName(name),
		help:        help,
		kind:        kind,
		value:       value,
		labelNames:  labelNames,
		labelValues: labelValues,
	}
}

func tagLabels(m *event.Metric) (names, values []string) {
	names = make([]string, 0, len(m.TagKeys))
	values = make([]string, 0, len(m.TagKeys))
	for _, k := range m.TagKeys {
		names = append(names, sanitizeName(k))
		values = append(values, m.Tags[k])
	}
	return names, values
}

func sumFloats(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	return total
}

// sanitizeName maps a metric or tag name to a valid Prometheus identifier:
// ASCII letters, digits and underscore only, never starting with a digit.
func sanitizeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Describe implements prometheus.Collector. It intentionally sends no
// descriptors: the metric set is only known once events start arriving, and
// client_golang documents this "unchecked collector" shape explicitly for
// exactly that situation.
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.metrics {
		desc := prometheus.NewDesc(snap.name, snap.help, snap.labelNames, nil)
		m, err := prometheus.NewConstMetric(desc, snap.kind, snap.value, snap.labelValues...)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// Handler returns an http.Handler serving the currently observed metrics in
// the Prometheus exposition format. Each call builds a fresh registry so
// repeated calls never collide on duplicate registration.
func (s *Sink) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(s)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
