// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoadsAndDecodesConfig(t *testing.T) {
	Init("testdata/config.json")

	if len(Keys.Sources) != 1 || Keys.Sources[0].Name != "app-logs" {
		t.Fatalf("unexpected sources: %+v", Keys.Sources)
	}
	if Keys.LineAgg.Mode != "continue_through" {
		t.Fatalf("unexpected line-aggregation mode: %q", Keys.LineAgg.Mode)
	}
	if Keys.MetricBuffer.MaxEvents != 1000 {
		t.Fatalf("unexpected metric-buffer max-events: %d", Keys.MetricBuffer.MaxEvents)
	}
	if len(Keys.Sinks) != 1 || Keys.Sinks[0].Type != "nats" {
		t.Fatalf("unexpected sinks: %+v", Keys.Sinks)
	}
	if !Keys.AdminServer.Enabled || Keys.AdminServer.Addr != ":9100" {
		t.Fatalf("unexpected admin-server config: %+v", Keys.AdminServer)
	}
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Keys = ProgramConfig{}
	Init("testdata/does-not-exist.json")
	if Keys.Sources != nil {
		t.Fatalf("expected defaults to be untouched, got %+v", Keys.Sources)
	}
}

func TestValidateRejectsUnknownFingerprintStrategy(t *testing.T) {
	raw, err := os.ReadFile("testdata/invalid.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if err := validateInstance(configSchema, json.RawMessage(raw)); err == nil {
		t.Fatalf("expected validation to reject an unknown fingerprint strategy")
	}
}

func TestValidateAdminServerRateLimitShapes(t *testing.T) {
	base := func(adminServer string) json.RawMessage {
		return json.RawMessage(`{"sources":[{"name":"a","include":["/tmp/*.log"]}],"admin-server":` + adminServer + `}`)
	}

	tests := []struct {
		name        string
		adminServer string
		wantErr     bool
	}{
		{"omitted rate fields", `{"enabled":true}`, false},
		{"valid rate fields", `{"enabled":true,"rate-per-second":5,"rate-burst":10}`, false},
		{"negative rate-per-second", `{"enabled":true,"rate-per-second":-1}`, true},
		{"negative rate-burst", `{"enabled":true,"rate-burst":-1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInstance(configSchema, base(tt.adminServer))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestInitLoadsAdminServerRateLimitFields(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.json"
	require.NoError(t, os.WriteFile(path, []byte(`{
		"sources": [{"name": "a", "include": ["/tmp/*.log"]}],
		"admin-server": {"enabled": true, "addr": ":9100", "rate-per-second": 2.5, "rate-burst": 4}
	}`), 0o644))

	Init(path)

	assert.Equal(t, 2.5, Keys.AdminServer.RatePerSecond)
	assert.Equal(t, 4, Keys.AdminServer.RateBurst)
}

func TestParseDurationDefaultsOnEmpty(t *testing.T) {
	if got := ParseDuration("", 3*time.Second); got != 3*time.Second {
		t.Fatalf("got %v, want 3s", got)
	}
	if got := ParseDuration("500ms", time.Second); got != 500*time.Millisecond {
		t.Fatalf("got %v, want 500ms", got)
	}
}
