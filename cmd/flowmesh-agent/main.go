// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/flowmesh-io/flowmesh-agent/internal/adminserver"
	"github.com/flowmesh-io/flowmesh-agent/internal/config"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/checkpoint"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/dag"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/filesource"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/fingerprint"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/lineagg"
	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/transform"
	"github.com/flowmesh-io/flowmesh-agent/internal/sink/lineprotocol"
	natssink "github.com/flowmesh-io/flowmesh-agent/internal/sink/nats"
	promsink "github.com/flowmesh-io/flowmesh-agent/internal/sink/prom"
	s3sink "github.com/flowmesh-io/flowmesh-agent/internal/sink/s3"
	"github.com/flowmesh-io/flowmesh-agent/internal/telemetry"
)

const version = "0.1.0-dev"

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("flowmesh-agent version %s\n", version)
		return
	}

	cclog.Init(flagLogLevel, flagLogDateTime)

	// See https://github.com/google/gops (runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("[MAIN]> gops/agent.Listen failed: %s", err)
		}
	}

	config.Init(flagConfigFile)

	telemetry.SetBuildInfo(version, "", "", "")
	reg := telemetry.NewRegistry()

	ckptStore, readCheckpoints, startCheckpointWriter := buildCheckpointStore(config.Keys.Checkpoint)
	if err := readCheckpoints(nil); err != nil {
		cclog.Warnf("[MAIN]> reading checkpoints: %s", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		cclog.Infof("[MAIN]> received %s, shutting down", sig)
		rootCancel()
	}()

	coord, ctx := dag.NewCoordinator(rootCtx)
	coord.WithTelemetry(reg)

	// extraWG tracks goroutines that are not pipeline nodes proper (the
	// checkpoint writer, the admin server, the source fan-in) but still need
	// to finish draining before main returns.
	var extraWG sync.WaitGroup
	startCheckpointWriter(ctx, &extraWG)

	servers := make([]*filesource.FileServer, 0, len(config.Keys.Sources))
	sourceChans := make([]<-chan event.Event, 0, len(config.Keys.Sources))
	for _, sc := range config.Keys.Sources {
		srv := buildFileServer(sc, ckptStore)
		servers = append(servers, srv)

		ch := coord.AddSource(ctx, "source:"+sc.Name, &dag.FileSource{Server: srv}, 256)
		sourceChans = append(sourceChans, ch)
	}

	stage := mergeEvents(ctx, &extraWG, sourceChans)

	if laCfg, ok := buildLineAggConfig(config.Keys.LineAgg); ok {
		stage = coord.AddTransform(ctx, "lineagg", &dag.LineAggTransform{Config: laCfg}, stage, 256)
	}

	stage = coord.AddTransform(ctx, "metricbuffer", &dag.MetricBufferTransform{
		MaxEvents:     config.Keys.MetricBuffer.MaxEvents,
		FlushInterval: config.ParseDuration(config.Keys.MetricBuffer.FlushInterval, 10*time.Second),
	}, stage, 256)

	if config.Keys.TransformExpr != "" {
		exprTransform, err := transform.New(config.Keys.TransformExpr)
		if err != nil {
			cclog.Fatalf("[MAIN]> invalid transform-expression: %s", err)
		}
		stage = coord.AddTransform(ctx, "transform", exprTransform, stage, 256)
	}

	sinks := make([]dag.Sink, 0, len(config.Keys.Sinks))
	names := make([]string, 0, len(config.Keys.Sinks))
	for _, sk := range config.Keys.Sinks {
		built, err := buildSink(ctx, &extraWG, sk)
		if err != nil {
			cclog.Fatalf("[MAIN]> building sink %q: %s", sk.Name, err)
		}
		sinks = append(sinks, built)
		names = append(names, sk.Name)
	}
	attachSinks(coord, ctx, stage, sinks, names)

	if config.Keys.AdminServer.Enabled {
		runAdminServer(ctx, &extraWG, reg, servers, ckptStore)
	}

	cclog.Infof("[MAIN]> flowmesh-agent running (%d sources, %d sinks)", len(servers), len(sinks))
	<-rootCtx.Done()
	coord.Shutdown()
	extraWG.Wait()
	cclog.Infof("[MAIN]> shutdown complete")

	for _, err := range coord.Errors() {
		cclog.Errorf("[MAIN]> node error: %s", err)
	}
}

func buildFileServer(sc config.SourceConfig, ckpt filesource.CheckpointStore) *filesource.FileServer {
	cfg := filesource.DefaultConfig()
	cfg.StartAtBeginning = sc.StartAtBeginning
	cfg.OldestFirst = sc.OldestFirst
	if sc.MaxLineBytes > 0 {
		cfg.MaxLineBytes = sc.MaxLineBytes
	}
	if sc.MaxReadBytes > 0 {
		cfg.MaxReadBytes = sc.MaxReadBytes
	}
	cfg.GlobMinimumCooldown = config.ParseDuration(sc.GlobMinimumCooldown, cfg.GlobMinimumCooldown)
	cfg.RemoveAfter = config.ParseDuration(sc.RemoveAfter, 0)
	cfg.FingerprintStrategy = parseFingerprintStrategy(sc.FingerprintStrategy)

	paths := filesource.GlobPaths{Include: sc.Include, Exclude: sc.Exclude}
	return filesource.NewFileServer(cfg, paths, ckpt)
}

func parseFingerprintStrategy(s string) fingerprint.Strategy {
	if s == "device-and-inode" {
		return fingerprint.DeviceAndInode
	}
	return fingerprint.FirstLinesChecksum
}

// buildCheckpointStore selects the file or sqlite backend per
// CheckpointConfig.Backend and returns the store itself (for wiring into
// every FileServer and the admin server), its ReadCheckpoints method (called
// once at startup), and a function that starts its periodic writer once a
// pipeline context is available.
func buildCheckpointStore(cfg config.CheckpointConfig) (filesource.CheckpointStore, func(*time.Time) error, func(ctx context.Context, wg *sync.WaitGroup)) {
	if cfg.Backend == "sqlite" {
		path := cfg.SqlitePath
		if path == "" {
			path = "./var/checkpoints/checkpoints.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			cclog.Fatalf("[MAIN]> creating sqlite checkpoint directory: %s", err)
		}
		store, err := checkpoint.NewSQLite(path)
		if err != nil {
			cclog.Fatalf("[MAIN]> opening sqlite checkpoint store: %s", err)
		}
		start := func(ctx context.Context, wg *sync.WaitGroup) {
			store.RunWriter(ctx, wg, config.ParseDuration(cfg.Interval, 10*time.Second))
		}
		return store, store.ReadCheckpoints, start
	}

	store := checkpoint.New(cfg.Directory, cfg.NumWorkers)
	store.FileFormat = cfg.FileFormat
	if cfg.WriteSchedule != "" {
		start := func(ctx context.Context, wg *sync.WaitGroup) {
			scheduler, err := store.RunWriterCron(cfg.WriteSchedule, cfg.RetentionSchedule, nil)
			if err != nil {
				cclog.Fatalf("[MAIN]> scheduling checkpoint writer: %s", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ctx.Done()
				if err := scheduler.Shutdown(); err != nil {
					cclog.Errorf("[MAIN]> checkpoint scheduler shutdown: %s", err)
				}
				if _, err := store.WriteCheckpoints(); err != nil {
					cclog.Errorf("[MAIN]> final checkpoint write: %s", err)
				}
			}()
		}
		return store, store.ReadCheckpoints, start
	}

	start := func(ctx context.Context, wg *sync.WaitGroup) {
		store.RunWriter(ctx, wg, config.ParseDuration(cfg.Interval, 10*time.Second))
	}
	return store, store.ReadCheckpoints, start
}

func buildLineAggConfig(cfg config.LineAggConfig) (lineagg.Config, bool) {
	if cfg.StartPattern == "" {
		return lineagg.Config{}, false
	}

	start, err := regexp.Compile(cfg.StartPattern)
	if err != nil {
		cclog.Fatalf("[MAIN]> invalid line-aggregation start-pattern: %s", err)
	}
	condition := start
	if cfg.ConditionPattern != "" {
		condition, err = regexp.Compile(cfg.ConditionPattern)
		if err != nil {
			cclog.Fatalf("[MAIN]> invalid line-aggregation condition-pattern: %s", err)
		}
	}

	return lineagg.Config{
		StartPattern:     start,
		ConditionPattern: condition,
		Mode:             parseLineAggMode(cfg.Mode),
		Timeout:          config.ParseDuration(cfg.Timeout, 5*time.Second),
	}, true
}

func parseLineAggMode(s string) lineagg.Mode {
	switch s {
	case "continue_past":
		return lineagg.ContinuePast
	case "halt_before":
		return lineagg.HaltBefore
	case "halt_with":
		return lineagg.HaltWith
	default:
		return lineagg.ContinueThrough
	}
}

// mergeEvents fans every source channel into one shared channel, so the
// rest of the pipeline need not know how many sources are configured. It
// registers itself with wg so main can wait for it to drain after shutdown.
func mergeEvents(ctx context.Context, wg *sync.WaitGroup, chans []<-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, 64)
	var inner sync.WaitGroup
	for _, c := range chans {
		inner.Add(1)
		go func(c <-chan event.Event) {
			defer inner.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-c:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(c)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		inner.Wait()
		close(out)
	}()
	return out
}

func buildSink(ctx context.Context, wg *sync.WaitGroup, cfg config.SinkConfig) (dag.Sink, error) {
	switch cfg.Type {
	case "nats":
		return natssink.Connect(cfg.URL, cfg.Subject)

	case "s3":
		return s3sink.Connect(s3sink.Config{
			Endpoint:      cfg.Endpoint,
			Bucket:        cfg.Bucket,
			Region:        cfg.Region,
			Prefix:        cfg.Prefix,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			UsePathStyle:  cfg.UsePathStyle,
			BatchSize:     cfg.BatchSize,
			FlushInterval: config.ParseDuration(cfg.FlushInterval, 30*time.Second),
		})

	case "lineprotocol":
		w, err := lineProtocolWriter(cfg.Addr)
		if err != nil {
			return nil, err
		}
		return lineprotocol.New(w), nil

	case "prom":
		return buildPromSink(ctx, wg, cfg.Addr), nil

	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

func lineProtocolWriter(addr string) (io.Writer, error) {
	if addr == "" || addr == "-" {
		return os.Stdout, nil
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("lineprotocol sink: dial %s: %w", addr, err)
	}
	return conn, nil
}

// buildPromSink starts the sink's own scrape HTTP server alongside the dag
// sink node: the node ingests events, the server exposes them, both share
// the sink's internal state but have otherwise independent lifecycles.
func buildPromSink(ctx context.Context, wg *sync.WaitGroup, addr string) *promsink.Sink {
	sink := promsink.New()
	srv := &http.Server{Addr: addr, Handler: sink.Handler()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				cclog.Errorf("[MAIN]> prom sink server shutdown: %s", err)
			}
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				cclog.Errorf("[MAIN]> prom sink server: %s", err)
			}
		}
	}()
	return sink
}

func attachSinks(coord *dag.Coordinator, ctx context.Context, in <-chan event.Event, sinks []dag.Sink, names []string) {
	switch len(sinks) {
	case 0:
		cclog.Warnf("[MAIN]> no sinks configured, events will be discarded")
		coord.AddSink(ctx, "sinks:discard", discardSink{}, in)
	case 1:
		coord.AddSink(ctx, "sink:"+names[0], sinks[0], in)
	default:
		coord.AddSink(ctx, "sinks:fanout", &dag.FanOutSink{Sinks: sinks, Names: names, BufSize: 64}, in)
	}
}

// discardSink drains events without forwarding them anywhere, used when no
// sink is configured so upstream nodes never block on a full channel.
type discardSink struct{}

func (discardSink) Run(ctx context.Context, in <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-in:
			if !ok {
				return nil
			}
		}
	}
}

// multiWatcher merges the Snapshot of every configured file source into one
// list, satisfying adminserver.WatcherLister regardless of how many sources
// are configured.
type multiWatcher []*filesource.FileServer

func (m multiWatcher) Snapshot() []filesource.WatcherState {
	var out []filesource.WatcherState
	for _, s := range m {
		out = append(out, s.Snapshot()...)
	}
	return out
}

func runAdminServer(ctx context.Context, wg *sync.WaitGroup, reg *telemetry.Registry, servers []*filesource.FileServer, ckpt adminserver.CheckpointWriter) {
	cfg := config.Keys.AdminServer
	admin := adminserver.New(adminserver.Config{
		Username:      cfg.Username,
		Password:      cfg.Password,
		JwtSecret:     cfg.JwtSecret,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	}, reg, multiWatcher(servers), ckpt, func() error {
		config.Init(flagConfigFile)
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := admin.Run(ctx, cfg.Addr); err != nil {
			cclog.Errorf("[MAIN]> admin server exited: %s", err)
		}
	}()
}
