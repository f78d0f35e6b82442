// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "time"

// MetricKind discriminates whether a metric observation is a delta since the
// previous sample (Incremental) or a total since some fixed reference point
// (Absolute).
type MetricKind int

const (
	Incremental MetricKind = iota
	Absolute
)

func (k MetricKind) String() string {
	if k == Absolute {
		return "absolute"
	}
	return "incremental"
}

// StatisticKind distinguishes the two conventional uses of a Distribution:
// a raw histogram sample stream, or a client-side-computed summary sample
// stream. Both carry the same shape; the tag only affects how a sink renders
// them.
type StatisticKind int

const (
	Histogram StatisticKind = iota
	Summary
)

// MetricValue is the sum type of every supported metric shape.
type MetricValue interface {
	metricValue()
	isCounter() bool
	isGauge() bool
}

type Counter struct{ Value float64 }

type Gauge struct{ Value float64 }

type Set struct{ Values map[string]struct{} }

// Distribution holds parallel arrays of sampled values and their sample
// rates (how many raw observations each value stands in for).
type Distribution struct {
	Values      []float64
	SampleRates []uint32
	Statistic   StatisticKind
}

// AggregatedHistogram is a pre-binned distribution: ascending bucket upper
// bounds, per-bucket counts, and overall count/sum.
type AggregatedHistogram struct {
	Buckets []float64
	Counts  []uint32
	Count   uint32
	Sum     float64
}

// AggregatedSummary is a pre-computed quantile sketch.
type AggregatedSummary struct {
	Quantiles []float64
	Values    []float64
	Count     uint32
	Sum       float64
}

func (Counter) metricValue()             {}
func (Gauge) metricValue()                {}
func (Set) metricValue()                  {}
func (Distribution) metricValue()         {}
func (AggregatedHistogram) metricValue()  {}
func (AggregatedSummary) metricValue()    {}

func (Counter) isCounter() bool             { return true }
func (Gauge) isCounter() bool               { return false }
func (Set) isCounter() bool                 { return false }
func (Distribution) isCounter() bool        { return false }
func (AggregatedHistogram) isCounter() bool { return false }
func (AggregatedSummary) isCounter() bool   { return false }

func (Counter) isGauge() bool             { return false }
func (Gauge) isGauge() bool               { return true }
func (Set) isGauge() bool                 { return false }
func (Distribution) isGauge() bool        { return false }
func (AggregatedHistogram) isGauge() bool { return false }
func (AggregatedSummary) isGauge() bool   { return false }

// Metric is the Metric variant of Event: {name, namespace, timestamp, tags,
// kind, value}. Tags preserve insertion order via TagKeys so that key
// derivation (MetricBuffer) and serialization are deterministic.
type Metric struct {
	Name      string
	Namespace string
	HasNs     bool
	Timestamp time.Time
	HasTS     bool
	TagKeys   []string
	Tags      map[string]string
	Kind      MetricKind
	Value     MetricValue
}

func NewMetric(name string, kind MetricKind, value MetricValue) *Metric {
	return &Metric{Name: name, Kind: kind, Value: value, Tags: make(map[string]string)}
}

func (m *Metric) SetTag(key, value string) {
	if m.Tags == nil {
		m.Tags = make(map[string]string)
	}
	if _, ok := m.Tags[key]; !ok {
		m.TagKeys = append(m.TagKeys, key)
	}
	m.Tags[key] = value
}

// Clone makes a deep-enough copy for use as a delta base: tag map and slice
// fields in the value are copied, so mutating the clone never aliases the
// original's storage.
func (m *Metric) Clone() *Metric {
	c := *m
	if m.Tags != nil {
		c.Tags = make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			c.Tags[k] = v
		}
		c.TagKeys = append([]string(nil), m.TagKeys...)
	}
	c.Value = cloneValue(m.Value)
	return &c
}

func cloneValue(v MetricValue) MetricValue {
	switch t := v.(type) {
	case Counter:
		return t
	case Gauge:
		return t
	case Set:
		s := make(map[string]struct{}, len(t.Values))
		for k := range t.Values {
			s[k] = struct{}{}
		}
		return Set{Values: s}
	case Distribution:
		return Distribution{
			Values:      append([]float64(nil), t.Values...),
			SampleRates: append([]uint32(nil), t.SampleRates...),
			Statistic:   t.Statistic,
		}
	case AggregatedHistogram:
		return AggregatedHistogram{
			Buckets: append([]float64(nil), t.Buckets...),
			Counts:  append([]uint32(nil), t.Counts...),
			Count:   t.Count,
			Sum:     t.Sum,
		}
	case AggregatedSummary:
		return AggregatedSummary{
			Quantiles: append([]float64(nil), t.Quantiles...),
			Values:    append([]float64(nil), t.Values...),
			Count:     t.Count,
			Sum:       t.Sum,
		}
	default:
		return v
	}
}
