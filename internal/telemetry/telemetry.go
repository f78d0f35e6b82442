// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry exposes the agent's own operational metrics: how many
// events each pipeline node processed, dropped, or errored on, and how long
// checkpoint writes and metric-buffer flushes take.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

const namespace = "flowmesh"

// Registry implements prometheus.Collector directly over its own instruments
// rather than relying on the default global registry, so an agent process
// can be embedded, run multiple times in one test binary, or shut down and
// restarted without colliding on metric names already registered elsewhere.
type Registry struct {
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	nodeErrors      *prometheus.CounterVec
	checkpointWrite prometheus.Summary
	bufferFlush     prometheus.Summary
	buildInfo       prometheus.Collector
}

// SetBuildInfo stamps the package-level version metadata read by the
// build-info collector (version.Version, version.Revision, ...). Call once
// at startup before scraping; the zero value reports empty strings.
func SetBuildInfo(v, revision, branch, buildDate string) {
	version.Version = v
	version.Revision = revision
	version.Branch = branch
	version.BuildDate = buildDate
}

func NewRegistry() *Registry {
	return &Registry{
		buildInfo: version.NewCollector(namespace),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events that passed through a pipeline node, by node and event kind.",
		}, []string{"node", "kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped by a pipeline node, by node and reason.",
		}, []string{"node", "reason"}),
		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_errors_total",
			Help:      "Errors a pipeline node returned on exit, by node.",
		}, []string{"node"}),
		checkpointWrite: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_seconds",
			Help:      "Time taken to persist a checkpoint to disk.",
		}),
		bufferFlush: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "metric_buffer_flush_seconds",
			Help:      "Time taken to finish and drain a metric buffer flush window.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	r.eventsProcessed.Describe(ch)
	r.eventsDropped.Describe(ch)
	r.nodeErrors.Describe(ch)
	ch <- r.checkpointWrite.Desc()
	ch <- r.bufferFlush.Desc()
	r.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.eventsProcessed.Collect(ch)
	r.eventsDropped.Collect(ch)
	r.nodeErrors.Collect(ch)
	ch <- r.checkpointWrite
	ch <- r.bufferFlush
	r.buildInfo.Collect(ch)
}

func (r *Registry) EventProcessed(node, kind string) {
	r.eventsProcessed.WithLabelValues(node, kind).Inc()
}

func (r *Registry) EventDropped(node, reason string) {
	r.eventsDropped.WithLabelValues(node, reason).Inc()
}

func (r *Registry) NodeError(node string) {
	r.nodeErrors.WithLabelValues(node).Inc()
}

func (r *Registry) ObserveCheckpointWrite(seconds float64) {
	r.checkpointWrite.Observe(seconds)
}

func (r *Registry) ObserveBufferFlush(seconds float64) {
	r.bufferFlush.Observe(seconds)
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus exposition format, for wiring into the admin server's /metrics
// route. Each call builds its own prometheus.Registry so repeated calls
// (for example from tests) never collide on duplicate registration.
func (r *Registry) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(r)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
