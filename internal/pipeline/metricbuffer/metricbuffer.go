// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metricbuffer implements batched metric normalization: disaggregating
// absolute counters into deltas, turning incremental gauges into running
// absolute totals, and merging repeated observations of the same series
// within one flush window. Ported in semantics from the upstream Rust
// MetricBuffer, which keys on a custom Hash/Eq over a HashSet<MetricEntry>;
// this package expresses that as a plain comparable struct key into a Go map.
package metricbuffer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

// metricKey identifies a series: its "shape" (name, namespace, kind, tags,
// value type, and — for the two pre-aggregated types — the bucket bounds or
// quantile ranks) without regard to its current value. Two metrics with the
// same key are combined instead of tracked separately.
type metricKey struct {
	name      string
	namespace string
	hasNs     bool
	kind      event.MetricKind
	tags      string
	valueKind string
	shape     string
}

func keyOf(m *event.Metric) metricKey {
	k := metricKey{
		name:      m.Name,
		namespace: m.Namespace,
		hasNs:     m.HasNs,
		kind:      m.Kind,
		tags:      canonicalTags(m),
		valueKind: valueKindName(m.Value),
	}
	switch v := m.Value.(type) {
	case event.AggregatedHistogram:
		k.shape = floatsKey(v.Buckets)
	case event.AggregatedSummary:
		k.shape = floatsKey(v.Quantiles)
	}
	return k
}

func valueKindName(v event.MetricValue) string {
	switch v.(type) {
	case event.Counter:
		return "counter"
	case event.Gauge:
		return "gauge"
	case event.Set:
		return "set"
	case event.Distribution:
		return "distribution"
	case event.AggregatedHistogram:
		return "aggregated_histogram"
	case event.AggregatedSummary:
		return "aggregated_summary"
	default:
		return "unknown"
	}
}

func canonicalTags(m *event.Metric) string {
	if len(m.TagKeys) == 0 {
		return ""
	}
	keys := append([]string(nil), m.TagKeys...)
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.Tags[k])
	}
	return b.String()
}

func floatsKey(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Buffer accumulates metrics for one flush window. state carries forward
// absolute counter/gauge totals across windows so the next window's deltas
// stay correct; metrics holds the current window's (already normalized)
// output.
type Buffer struct {
	state     map[metricKey]*event.Metric
	metrics   map[metricKey]*event.Metric
	order     []metricKey
	maxEvents int
}

func New(maxEvents int) *Buffer {
	return newWithState(maxEvents, make(map[metricKey]*event.Metric))
}

func newWithState(maxEvents int, state map[metricKey]*event.Metric) *Buffer {
	return &Buffer{state: state, metrics: make(map[metricKey]*event.Metric), maxEvents: maxEvents}
}

func (b *Buffer) NumItems() int { return len(b.metrics) }
func (b *Buffer) IsEmpty() bool { return len(b.metrics) == 0 }

// Push normalizes and merges m into the buffer. overflow is true (and m is
// not accepted) if the buffer was already at capacity; full is true if this
// push brought the buffer to capacity, signalling the caller should Finish
// and Fresh the buffer before pushing more.
func (b *Buffer) Push(m *event.Metric) (overflow, full bool) {
	if len(b.metrics) >= b.maxEvents {
		return true, true
	}

	item := m.Clone()

	if counter, ok := item.Value.(event.Counter); ok && item.Kind == event.Absolute {
		b.pushAbsoluteCounter(item, counter)
		return false, len(b.metrics) >= b.maxEvents
	}

	if _, ok := item.Value.(event.Gauge); ok && item.Kind == event.Incremental {
		b.pushIncrementalGauge(item)
		return false, len(b.metrics) >= b.maxEvents
	}

	if item.Kind == event.Absolute {
		b.replace(keyOf(item), item)
		return false, len(b.metrics) >= b.maxEvents
	}

	key := keyOf(item)
	if existing, ok := b.metrics[key]; ok {
		mergeInto(existing, item)
	} else {
		b.insert(key, item)
	}
	return false, len(b.metrics) >= b.maxEvents
}

// pushAbsoluteCounter disaggregates an absolute counter sample into the
// delta since the last observed absolute value for this series, merging
// that delta into the current window like any other incremental counter.
func (b *Buffer) pushAbsoluteCounter(item *event.Metric, counter event.Counter) {
	key := keyOf(item)
	prev, tracked := b.state[key]
	if !tracked {
		b.state[key] = item
		return
	}

	prevCounter := prev.Value.(event.Counter)
	delta := item.Clone()
	delta.Kind = event.Incremental
	delta.Value = event.Counter{Value: counter.Value - prevCounter.Value}

	deltaKey := keyOf(delta)
	if existing, ok := b.metrics[deltaKey]; ok {
		mergeInto(existing, delta)
	} else {
		b.insert(deltaKey, delta)
	}
	b.state[key] = item
}

// pushIncrementalGauge turns an incremental gauge delta into a running
// absolute total, seeded from this window's running total if one already
// exists, else from the carried-over state, else from zero.
func (b *Buffer) pushIncrementalGauge(item *event.Metric) {
	absolute := item.Clone()
	absolute.Kind = event.Absolute
	key := keyOf(absolute)

	if existing, ok := b.metrics[key]; ok {
		mergeInto(existing, item)
		return
	}

	var initial *event.Metric
	if st, ok := b.state[key]; ok {
		initial = st.Clone()
	} else {
		initial = absolute.Clone()
		initial.Value = event.Gauge{Value: 0}
	}
	mergeInto(initial, item)
	b.insert(key, initial)
}

func (b *Buffer) replace(key metricKey, item *event.Metric) {
	if _, ok := b.metrics[key]; !ok {
		b.order = append(b.order, key)
	}
	b.metrics[key] = item
}

func (b *Buffer) insert(key metricKey, item *event.Metric) {
	b.order = append(b.order, key)
	b.metrics[key] = item
}

// mergeInto accumulates incoming's value onto existing in place, per the
// accumulation rule for that value's shape: sum for counters/gauges, union
// for sets, concatenation for distributions, elementwise bucket sum for
// aggregated histograms. Aggregated summaries have no well-defined merge and
// are simply replaced by the newer observation.
func mergeInto(existing, incoming *event.Metric) {
	switch e := existing.Value.(type) {
	case event.Counter:
		c := incoming.Value.(event.Counter)
		existing.Value = event.Counter{Value: e.Value + c.Value}
	case event.Gauge:
		g := incoming.Value.(event.Gauge)
		existing.Value = event.Gauge{Value: e.Value + g.Value}
	case event.Set:
		s := incoming.Value.(event.Set)
		for v := range s.Values {
			e.Values[v] = struct{}{}
		}
	case event.Distribution:
		d := incoming.Value.(event.Distribution)
		existing.Value = event.Distribution{
			Values:      append(append([]float64(nil), e.Values...), d.Values...),
			SampleRates: append(append([]uint32(nil), e.SampleRates...), d.SampleRates...),
			Statistic:   e.Statistic,
		}
	case event.AggregatedHistogram:
		h := incoming.Value.(event.AggregatedHistogram)
		counts := make([]uint32, len(e.Counts))
		for i := range counts {
			counts[i] = e.Counts[i]
			if i < len(h.Counts) {
				counts[i] += h.Counts[i]
			}
		}
		existing.Value = event.AggregatedHistogram{Buckets: e.Buckets, Counts: counts, Count: e.Count + h.Count, Sum: e.Sum + h.Sum}
	case event.AggregatedSummary:
		existing.Value = incoming.Value
	}
}

// Fresh produces the Buffer for the next flush window: state carries
// forward, seeded additionally with this window's absolute counter and
// gauge totals so the next window's deltas compute correctly.
func (b *Buffer) Fresh() *Buffer {
	newState := make(map[metricKey]*event.Metric, len(b.state))
	for k, v := range b.state {
		newState[k] = v
	}
	for _, key := range b.order {
		m := b.metrics[key]
		if m == nil || m.Kind != event.Absolute {
			continue
		}
		switch m.Value.(type) {
		case event.Counter, event.Gauge:
			newState[key] = m
		}
	}
	return newWithState(b.maxEvents, newState)
}

// Finish returns the window's metrics in push order, applying distribution
// compression to any Distribution values.
func (b *Buffer) Finish() []*event.Metric {
	out := make([]*event.Metric, 0, len(b.order))
	for _, key := range b.order {
		m := b.metrics[key]
		if m == nil {
			continue
		}
		if d, ok := m.Value.(event.Distribution); ok {
			values, rates := compressDistribution(d.Values, d.SampleRates)
			m = m.Clone()
			m.Value = event.Distribution{Values: values, SampleRates: rates, Statistic: d.Statistic}
		}
		out = append(out, m)
	}
	return out
}

// compressDistribution sorts (value, sample_rate) pairs by value and
// collapses runs of equal values, summing their sample rates.
func compressDistribution(values []float64, rates []uint32) ([]float64, []uint32) {
	if len(values) == 0 || len(rates) == 0 {
		return nil, nil
	}

	type pair struct {
		v float64
		r uint32
	}
	pairs := make([]pair, len(values))
	for i := range values {
		pairs[i] = pair{values[i], rates[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

	outV := make([]float64, 0, len(pairs))
	outR := make([]uint32, 0, len(pairs))
	prev := pairs[0].v
	var acc uint32
	for _, p := range pairs {
		if p.v == prev {
			acc += p.r
		} else {
			outV = append(outV, prev)
			outR = append(outR, acc)
			prev = p.v
			acc = p.r
		}
	}
	outV = append(outV, prev)
	outR = append(outR, acc)
	return outV, outR
}
