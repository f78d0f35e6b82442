// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"context"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/filesource"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/lineagg"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/metricbuffer"
)

// FileSource adapts a *filesource.FileServer to the Source interface,
// turning each emitted batch of raw lines into one LogEvent per line with
// its bytes stored at the "message" field.
type FileSource struct {
	Server *filesource.FileServer
}

func (f *FileSource) Run(ctx context.Context, out chan<- event.Event) error {
	lines := make(chan []filesource.Line, 1)
	errc := make(chan error, 1)
	go func() { errc <- f.Server.Run(ctx, lines) }()

	for {
		select {
		case <-ctx.Done():
			<-errc
			return nil
		case batch, ok := <-lines:
			if !ok {
				return <-errc
			}
			for _, line := range batch {
				ev := event.NewLogEvent(line.Source)
				if err := ev.Log.Object.Insert(event.Path{event.Field("message")}, event.BytesValue(line.Bytes)); err != nil {
					cclog.Warnf("[DAG]> discarding unrepresentable line from %s: %s", line.Source, err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					<-errc
					return nil
				}
			}
		}
	}
}

// LineAggTransform adapts lineagg.Logic to the Transform interface. Only log
// events are folded through aggregation; metric events pass through
// untouched since they are not line-oriented.
type LineAggTransform struct {
	Config lineagg.Config
}

func (t *LineAggTransform) Run(ctx context.Context, in <-chan event.Event, out chan<- event.Event) error {
	defer close(out)
	logic := lineagg.NewLogic[struct{}](t.Config)

	emit := func(src string, bytes []byte) bool {
		ev := event.NewLogEvent(src)
		if err := ev.Log.Object.Insert(event.Path{event.Field("message")}, event.BytesValue(bytes)); err != nil {
			cclog.Warnf("[DAG]> discarding unrepresentable aggregated line from %s: %s", src, err)
			return true
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var timer *time.Timer
		if at, ok := logic.NextTimeout(); ok {
			d := time.Until(at)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			for _, l := range logic.Drain() {
				emit(l.Source, l.Bytes)
			}
			return nil

		case ev, ok := <-in:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				for _, l := range logic.Drain() {
					emit(l.Source, l.Bytes)
				}
				return nil
			}
			if !ev.IsLog() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return nil
				}
				continue
			}
			msg, ok := ev.Log.Object.Get(event.Path{event.Field("message")})
			if !ok {
				continue
			}
			bytes, ok := msg.(event.BytesValue)
			if !ok {
				continue
			}
			for _, l := range logic.HandleLine(ev.Log.Source, []byte(bytes), struct{}{}) {
				if !emit(l.Source, l.Bytes) {
					return nil
				}
			}

		case <-timerChan(timer):
			for _, l := range logic.PopExpired(time.Now()) {
				if !emit(l.Source, l.Bytes) {
					return nil
				}
			}
		}
	}
}

func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// MetricBufferTransform batches metric events, flushing whenever the buffer
// fills or FlushInterval elapses, whichever comes first. Log events pass
// through untouched.
type MetricBufferTransform struct {
	MaxEvents     int
	FlushInterval time.Duration
}

func (t *MetricBufferTransform) Run(ctx context.Context, in <-chan event.Event, out chan<- event.Event) error {
	defer close(out)
	buf := metricbuffer.New(t.MaxEvents)

	ticker := time.NewTicker(t.FlushInterval)
	defer ticker.Stop()

	flush := func() bool {
		if buf.IsEmpty() {
			return true
		}
		metrics := buf.Finish()
		buf = buf.Fresh()
		for _, m := range metrics {
			select {
			case out <- event.NewMetricEvent(m):
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case ev, ok := <-in:
			if !ok {
				flush()
				return nil
			}
			if !ev.IsMetric() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return nil
				}
				continue
			}
			_, full := buf.Push(ev.IntoMetric())
			if full {
				if !flush() {
					return nil
				}
			}

		case <-ticker.C:
			if !flush() {
				return nil
			}
		}
	}
}

// FanOutSink copies every event it receives to N independently-running
// inner sinks, so a single pipeline tail can ship to more than one
// destination. Each inner sink gets its own buffered channel and goroutine;
// a slow or blocked sink only backs up its own channel, not its siblings.
type FanOutSink struct {
	Sinks   []Sink
	Names   []string
	BufSize int
}

func (f *FanOutSink) Run(ctx context.Context, in <-chan event.Event) error {
	bufSize := f.BufSize
	if bufSize <= 0 {
		bufSize = 1
	}

	outs := make([]chan event.Event, len(f.Sinks))
	var wg sync.WaitGroup
	for i, sk := range f.Sinks {
		outs[i] = make(chan event.Event, bufSize)
		wg.Add(1)
		go func(i int, sk Sink) {
			defer wg.Done()
			if err := sk.Run(ctx, outs[i]); err != nil {
				cclog.Errorf("[DAG]> fanout sink %q exited with error: %s", f.Names[i], err)
			}
		}(i, sk)
	}
	defer func() {
		for _, o := range outs {
			close(o)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			for _, o := range outs {
				select {
				case o <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
