// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lineprotocol implements a Sink node that encodes metric events to
// InfluxDB line protocol and writes them to an io.Writer.
package lineprotocol

import (
	"context"
	"fmt"
	"io"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

// Sink encodes every metric event it receives to one line-protocol line and
// writes it to Writer. Log events are not representable in line protocol and
// are dropped with a warning, matching the decoder side which
// only ever processes metric measurements.
type Sink struct {
	Writer io.Writer
}

func New(w io.Writer) *Sink {
	return &Sink{Writer: w}
}

func encodeMetric(enc *lineprotocol.Encoder, m *event.Metric) error {
	enc.StartLine(m.Name)
	for _, k := range m.TagKeys {
		enc.AddTag(k, m.Tags[k])
	}
	if m.HasNs {
		enc.AddTag("namespace", m.Namespace)
	}

	switch v := m.Value.(type) {
	case event.Counter:
		enc.AddField("value", lineprotocol.FloatValue(v.Value))
	case event.Gauge:
		enc.AddField("value", lineprotocol.FloatValue(v.Value))
	case event.Set:
		enc.AddField("cardinality", lineprotocol.IntValue(int64(len(v.Values))))
	case event.Distribution:
		enc.AddField("count", lineprotocol.IntValue(int64(len(v.Values))))
		enc.AddField("sum", lineprotocol.FloatValue(sumFloats(v.Values)))
	case event.AggregatedHistogram:
		enc.AddField("count", lineprotocol.UintValue(uint64(v.Count)))
		enc.AddField("sum", lineprotocol.FloatValue(v.Sum))
	case event.AggregatedSummary:
		enc.AddField("count", lineprotocol.UintValue(uint64(v.Count)))
		enc.AddField("sum", lineprotocol.FloatValue(v.Sum))
	default:
		return fmt.Errorf("lineprotocol sink: unsupported metric value type %T", v)
	}

	ts := m.Timestamp
	if !m.HasTS {
		ts = time.Now()
	}
	enc.EndLine(ts)
	return enc.Err()
}

func sumFloats(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	return total
}

// Run implements dag.Sink.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	enc := &lineprotocol.Encoder{}
	enc.SetPrecision(lineprotocol.Nanosecond)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if !ev.IsMetric() {
				cclog.Warnf("[SINK.LINEPROTOCOL]> dropping non-metric event")
				continue
			}

			enc.Reset()
			if err := encodeMetric(enc, ev.Metric); err != nil {
				cclog.Warnf("[SINK.LINEPROTOCOL]> %s", err)
				continue
			}
			if _, err := s.Writer.Write(enc.Bytes()); err != nil {
				return fmt.Errorf("lineprotocol sink: write: %w", err)
			}
		}
	}
}
