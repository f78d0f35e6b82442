// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the agent's single JSON configuration
// file into a package-level Keys value: load, schema-validate, then decode.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// SourceConfig configures one file-tailing source: a set of glob patterns to
// watch plus the tuning knobs exposed by filesource.Config.
type SourceConfig struct {
	Name                string   `json:"name"`
	Include             []string `json:"include"`
	Exclude             []string `json:"exclude"`
	StartAtBeginning    bool     `json:"start-at-beginning"`
	GlobMinimumCooldown string   `json:"glob-minimum-cooldown"`
	OldestFirst         bool     `json:"oldest-first"`
	RemoveAfter         string   `json:"remove-after"`
	FingerprintStrategy string   `json:"fingerprint-strategy"`
	MaxLineBytes        int      `json:"max-line-bytes"`
	MaxReadBytes        int      `json:"max-read-bytes"`
}

// LineAggConfig configures multi-line folding applied to every source's
// output before it reaches the rest of the pipeline. An empty StartPattern
// disables aggregation entirely; an empty ConditionPattern reuses
// StartPattern as the condition.
type LineAggConfig struct {
	StartPattern     string `json:"start-pattern"`
	ConditionPattern string `json:"condition-pattern"`
	Mode             string `json:"mode"`
	Timeout          string `json:"timeout"`
}

// MetricBufferConfig bounds one flush window of metric normalization.
type MetricBufferConfig struct {
	MaxEvents     int    `json:"max-events"`
	FlushInterval string `json:"flush-interval"`
}

// CheckpointConfig configures where and how tailing progress is persisted.
// Backend selects the storage: "file" (the default, a JSON flat file under
// Directory) or "sqlite" (a database at SqlitePath). WriteSchedule is an
// optional cron expression (seconds field allowed); when set, it replaces
// Interval's plain ticker with a gocron-driven schedule for the file backend.
// The sqlite backend always writes on Interval. RetentionSchedule is accepted
// but no retention task is registered for it, so it has no effect.
type CheckpointConfig struct {
	Backend           string `json:"backend"`
	Directory         string `json:"directory"`
	FileFormat        string `json:"file-format"`
	SqlitePath        string `json:"sqlite-path"`
	Interval          string `json:"interval"`
	NumWorkers        int    `json:"num-workers"`
	WriteSchedule     string `json:"write-schedule"`
	RetentionSchedule string `json:"retention-schedule"`
}

// SinkConfig configures one output destination. Which of the type-specific
// fields apply is determined by Type.
type SinkConfig struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// nats
	URL     string `json:"url"`
	Subject string `json:"subject"`

	// s3
	Bucket        string `json:"bucket"`
	Region        string `json:"region"`
	Prefix        string `json:"prefix"`
	Endpoint      string `json:"endpoint"`
	AccessKey     string `json:"access-key"`
	SecretKey     string `json:"secret-key"`
	UsePathStyle  bool   `json:"use-path-style"`
	BatchSize     int    `json:"batch-size"`
	FlushInterval string `json:"flush-interval"`

	// lineprotocol, prom
	Addr string `json:"addr"`
}

// AdminServerConfig configures the small operator-facing HTTP surface.
type AdminServerConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	JwtSecret string `json:"jwt-secret"`
	// RatePerSecond bounds the whole admin surface with one shared token
	// bucket; 0 disables the limiter entirely. Keys defaults it to 5 with a
	// RateBurst of 10.
	RatePerSecond float64 `json:"rate-per-second"`
	RateBurst     int     `json:"rate-burst"`
}

// Debug holds development/profiling toggles.
type Debug struct {
	EnableGops bool `json:"gops"`
}

// ProgramConfig is the full shape of the agent's config file.
type ProgramConfig struct {
	Sources       []SourceConfig     `json:"sources"`
	LineAgg       LineAggConfig      `json:"line-aggregation"`
	MetricBuffer  MetricBufferConfig `json:"metric-buffer"`
	Checkpoint    CheckpointConfig   `json:"checkpoint"`
	Sinks         []SinkConfig       `json:"sinks"`
	AdminServer   AdminServerConfig  `json:"admin-server"`
	Debug         Debug              `json:"debug"`
	TransformExpr string             `json:"transform-expression"`
}

// Keys is the global configuration instance: populated with defaults here,
// then overwritten by Init from the config file on disk.
var Keys ProgramConfig = ProgramConfig{
	MetricBuffer: MetricBufferConfig{
		MaxEvents:     500,
		FlushInterval: "10s",
	},
	Checkpoint: CheckpointConfig{
		Backend:    "file",
		Directory:  "./var/checkpoints",
		FileFormat: "json",
		Interval:   "10s",
		NumWorkers: 4,
	},
	AdminServer: AdminServerConfig{
		Addr:          ":9100",
		RatePerSecond: 5,
		RateBurst:     10,
	},
}

// Init reads and validates the config file at path, then decodes it onto
// Keys. A missing file is not an error (Keys keeps its defaults); a present
// but invalid file is fatal.
func Init(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Fatalf("[CONFIG]> reading %s: %s", path, err)
		}
		return
	}

	Validate(configSchema, raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Fatalf("[CONFIG]> decoding %s: %s", path, err)
	}

	if len(Keys.Sources) == 0 {
		cclog.Fatalf("[CONFIG]> at least one entry is required under \"sources\"")
	}
}

// ParseDuration wraps time.ParseDuration, defaulting to fallback for an
// empty string so optional duration fields don't force every config to
// spell out a value.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		cclog.Fatalf("[CONFIG]> invalid duration %q: %s", s, err)
	}
	return d
}
