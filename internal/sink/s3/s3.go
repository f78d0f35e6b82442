// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package s3sink implements an archival Sink node that batches events into
// newline-delimited JSON objects and uploads each batch to an S3-compatible
// object store.
package s3sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"
)

// Uploader is the subset of *s3.Client this sink depends on, matching the
// teacher's own ParquetTarget abstraction over the S3 client so tests can
// substitute a fake store.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures the S3 archival sink.
type Config struct {
	Endpoint      string
	Bucket        string
	Region        string
	Prefix        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	BatchSize     int
	FlushInterval time.Duration
}

// Sink batches incoming events into newline-delimited JSON and uploads one
// object per batch, either once BatchSize events have accumulated or once
// FlushInterval has elapsed, whichever comes first.
type Sink struct {
	Client Uploader
	Bucket string
	Prefix string

	BatchSize     int
	FlushInterval time.Duration

	// seq numbers successive object keys so batches never collide within a
	// single run; real uniqueness across restarts comes from the checkpoint
	// layer upstream, not from this sink.
	seq int
}

// Connect builds an S3 client from cfg, following the same
// aws-sdk-go-v2/config + credentials.NewStaticCredentialsProvider +
// s3.NewFromConfig(opts) wiring used for parquet archival
// target.
func Connect(cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newSink(client, cfg), nil
}

func newSink(client Uploader, cfg Config) *Sink {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	return &Sink{
		Client:        client,
		Bucket:        cfg.Bucket,
		Prefix:        cfg.Prefix,
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
	}
}

func encodeEvent(ev event.Event) ([]byte, error) {
	rec := map[string]any{}
	if ev.IsLog() {
		rec["kind"] = "log"
		rec["source"] = ev.Log.Source
		rec["fields"] = event.ToMap(ev.Log.Object)
	} else {
		rec["kind"] = "metric"
		rec["fields"] = event.ToMap(event.NewMetricObject(ev.Metric))
	}
	return json.Marshal(rec)
}

func (s *Sink) objectKey() string {
	s.seq++
	if s.Prefix == "" {
		return fmt.Sprintf("batch-%d.ndjson", s.seq)
	}
	return fmt.Sprintf("%s/batch-%d.ndjson", s.Prefix, s.seq)
}

func (s *Sink) flush(ctx context.Context, batch *bytes.Buffer) error {
	if batch.Len() == 0 {
		return nil
	}
	key := s.objectKey()
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(batch.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 sink: put object %q: %w", key, err)
	}
	cclog.Debugf("[SINK.S3]> wrote %s (%d bytes)", key, batch.Len())
	batch.Reset()
	return nil
}

// Run implements dag.Sink.
func (s *Sink) Run(ctx context.Context, in <-chan event.Event) error {
	var batch bytes.Buffer
	count := 0
	ticker := time.NewTicker(s.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.flush(context.Background(), &batch)
		case <-ticker.C:
			if err := s.flush(ctx, &batch); err != nil {
				return err
			}
			count = 0
		case ev, ok := <-in:
			if !ok {
				return s.flush(context.Background(), &batch)
			}
			data, err := encodeEvent(ev)
			if err != nil {
				cclog.Warnf("[SINK.S3]> encoding event: %s", err)
				continue
			}
			batch.Write(data)
			batch.WriteByte('\n')
			count++
			if count >= s.BatchSize {
				if err := s.flush(ctx, &batch); err != nil {
					return err
				}
				count = 0
			}
		}
	}
}
