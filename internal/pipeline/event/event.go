// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "time"

func timeOf(t TimestampValue) time.Time { return time.Time(t) }

// Kind discriminates the two Event variants.
type Kind int

const (
	KindLog Kind = iota
	KindMetric
)

// LogEvent is the Log variant of Event: an ordered mapping from paths to
// Values, represented as a LogObject root plus free-form source metadata
// carried alongside it (the file path a line was read from, for example).
type LogEvent struct {
	Object *LogObject
	Source string
}

// Event is the tagged union flowing through every DAG channel. Exactly one
// of Log/Metric is populated, selected by Kind.
type Event struct {
	Kind   Kind
	Log    *LogEvent
	Metric *Metric
}

func NewLogEvent(source string) Event {
	return Event{Kind: KindLog, Log: &LogEvent{Object: NewLogObject(), Source: source}}
}

func NewMetricEvent(m *Metric) Event {
	return Event{Kind: KindMetric, Metric: m}
}

func (e Event) IsLog() bool    { return e.Kind == KindLog }
func (e Event) IsMetric() bool { return e.Kind == KindMetric }

// IntoMetric returns the metric value carried by e. Log events have no
// metric representation defined by this pipeline; callers must check
// IsMetric first. Mirrors the upstream "into_metric" conversion used at the
// boundary between generic Event plumbing and the MetricBuffer, which only
// ever operates on the Metric variant.
func (e Event) IntoMetric() *Metric {
	return e.Metric
}

// metricObject adapts a *Metric to the Object protocol over the fixed schema
// `name|namespace|timestamp|kind|tags.*|type`, with `type` read-only. This
// lets generic Transform nodes (for example the expression evaluator) address
// metric fields the same way they address log fields.
type metricObject struct {
	m *Metric
}

func NewMetricObject(m *Metric) Object {
	return &metricObject{m: m}
}

func (o *metricObject) Insert(p Path, v LogValue) error {
	if len(p) == 0 {
		return simpleErr("cannot replace metric root")
	}
	seg := p[0]
	if seg.Kind != SegmentField && seg.Kind != SegmentQuotedField {
		return simpleErr("metric object only supports field paths")
	}
	switch seg.Field {
	case "name":
		s, ok := v.(BytesValue)
		if !ok {
			return simpleErr("name must be bytes")
		}
		o.m.Name = string(s)
	case "namespace":
		s, ok := v.(BytesValue)
		if !ok {
			return simpleErr("namespace must be bytes")
		}
		o.m.Namespace = string(s)
		o.m.HasNs = true
	case "timestamp":
		t, ok := v.(TimestampValue)
		if !ok {
			return simpleErr("timestamp must be a timestamp value")
		}
		o.m.Timestamp = timeOf(t)
		o.m.HasTS = true
	case "kind":
		s, ok := v.(BytesValue)
		if !ok {
			return simpleErr("kind must be bytes")
		}
		if string(s) == "absolute" {
			o.m.Kind = Absolute
		} else {
			o.m.Kind = Incremental
		}
	case "tags":
		if len(p) < 2 {
			return simpleErr("tags requires a sub-field")
		}
		sub := p[1]
		s, ok := v.(BytesValue)
		if !ok {
			return simpleErr("tag values must be bytes")
		}
		o.m.SetTag(sub.Field, string(s))
	case "type":
		return simpleErr("type is read-only")
	default:
		return simpleErr("unknown metric field: " + seg.Field)
	}
	return nil
}

func (o *metricObject) Get(p Path) (LogValue, bool) {
	if len(p) == 0 {
		return nil, false
	}
	seg := p[0]
	switch seg.Field {
	case "name":
		return BytesValue(o.m.Name), true
	case "namespace":
		if !o.m.HasNs {
			return nil, false
		}
		return BytesValue(o.m.Namespace), true
	case "timestamp":
		if !o.m.HasTS {
			return nil, false
		}
		return TimestampValue(o.m.Timestamp), true
	case "kind":
		return BytesValue(o.m.Kind.String()), true
	case "tags":
		if len(p) < 2 {
			return nil, false
		}
		v, ok := o.m.Tags[p[1].Field]
		if !ok {
			return nil, false
		}
		return BytesValue(v), true
	case "type":
		return BytesValue(metricTypeName(o.m.Value)), true
	}
	return nil, false
}

func (o *metricObject) Remove(p Path, compact bool) bool {
	if len(p) == 0 {
		return false
	}
	seg := p[0]
	switch seg.Field {
	case "namespace":
		o.m.HasNs = false
		o.m.Namespace = ""
		return true
	case "timestamp":
		o.m.HasTS = false
		return true
	case "tags":
		if len(p) < 2 {
			return false
		}
		if _, ok := o.m.Tags[p[1].Field]; !ok {
			return false
		}
		delete(o.m.Tags, p[1].Field)
		for i, k := range o.m.TagKeys {
			if k == p[1].Field {
				o.m.TagKeys = append(o.m.TagKeys[:i], o.m.TagKeys[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

func (o *metricObject) Paths() []Path {
	out := []Path{{Field("name")}, {Field("kind")}, {Field("type")}}
	if o.m.HasNs {
		out = append(out, Path{Field("namespace")})
	}
	if o.m.HasTS {
		out = append(out, Path{Field("timestamp")})
	}
	for _, k := range o.m.TagKeys {
		out = append(out, Path{Field("tags"), Field(k)})
	}
	return out
}

func metricTypeName(v MetricValue) string {
	switch v.(type) {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Set:
		return "set"
	case Distribution:
		return "distribution"
	case AggregatedHistogram:
		return "aggregated_histogram"
	case AggregatedSummary:
		return "aggregated_summary"
	default:
		return "unknown"
	}
}
