// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// configSchema validates the agent's own config.json shape before it is
// decoded onto Keys.
var configSchema = `
{
  "type": "object",
  "properties": {
    "sources": {
      "description": "File-tailing sources to watch.",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": { "type": "string" },
          "include": {
            "description": "Glob patterns of files to watch.",
            "type": "array",
            "items": { "type": "string" }
          },
          "exclude": {
            "description": "Glob patterns to exclude from include.",
            "type": "array",
            "items": { "type": "string" }
          },
          "start-at-beginning": { "type": "boolean" },
          "glob-minimum-cooldown": { "type": "string" },
          "oldest-first": { "type": "boolean" },
          "remove-after": { "type": "string" },
          "fingerprint-strategy": {
            "type": "string",
            "enum": ["first-lines-checksum", "device-and-inode"]
          },
          "max-line-bytes": { "type": "integer" },
          "max-read-bytes": { "type": "integer" }
        },
        "required": ["name", "include"]
      },
      "minItems": 1
    },
    "line-aggregation": {
      "description": "Multi-line folding applied to every source's output.",
      "type": "object",
      "properties": {
        "start-pattern": { "type": "string" },
        "condition-pattern": { "type": "string" },
        "mode": {
          "type": "string",
          "enum": ["continue_through", "continue_past", "halt_before", "halt_with"]
        },
        "timeout": { "type": "string" }
      }
    },
    "metric-buffer": {
      "description": "Bounds one flush window of metric normalization.",
      "type": "object",
      "properties": {
        "max-events": { "type": "integer" },
        "flush-interval": { "type": "string" }
      }
    },
    "checkpoint": {
      "description": "Where and how tailing progress is persisted.",
      "type": "object",
      "properties": {
        "backend": { "type": "string", "enum": ["file", "sqlite"] },
        "directory": { "type": "string" },
        "file-format": { "type": "string", "enum": ["json", "avro"] },
        "sqlite-path": { "type": "string" },
        "interval": { "type": "string" },
        "num-workers": { "type": "integer" },
        "write-schedule": { "type": "string" },
        "retention-schedule": { "type": "string" }
      }
    },
    "sinks": {
      "description": "Output destinations the pipeline ships events to.",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": { "type": "string" },
          "type": {
            "type": "string",
            "enum": ["nats", "prom", "s3", "lineprotocol"]
          },
          "url": { "type": "string" },
          "subject": { "type": "string" },
          "bucket": { "type": "string" },
          "region": { "type": "string" },
          "prefix": { "type": "string" },
          "endpoint": { "type": "string" },
          "access-key": { "type": "string" },
          "secret-key": { "type": "string" },
          "use-path-style": { "type": "boolean" },
          "batch-size": { "type": "integer" },
          "flush-interval": { "type": "string" },
          "addr": { "type": "string" }
        },
        "required": ["name", "type"]
      }
    },
    "admin-server": {
      "description": "The operator-facing HTTP surface: health check, metrics, debug dump.",
      "type": "object",
      "properties": {
        "enabled": { "type": "boolean" },
        "addr": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "jwt-secret": { "type": "string" },
        "rate-per-second": { "type": "number", "minimum": 0 },
        "rate-burst": { "type": "integer", "minimum": 0 }
      }
    },
    "debug": {
      "type": "object",
      "properties": {
        "gops": { "type": "boolean" }
      }
    },
    "transform-expression": {
      "description": "A boolean/mapping expr-lang expression evaluated per event.",
      "type": "string"
    }
  },
  "required": ["sources"]
}`
