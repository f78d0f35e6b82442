// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bufio"
	"fmt"
	"os"

	"github.com/linkedin/goavro/v2"
)

// avroSchema is fixed: a checkpoint record has the same four fields
// regardless of what it describes, unlike the free-form metric schemas
// goavro is more commonly paired with, so there is no schema-generation or
// reconciliation step here, just one static codec.
const avroSchema = `{
  "type": "record",
  "name": "checkpoint",
  "fields": [
    {"name": "fingerprint", "type": "string"},
    {"name": "position", "type": "long"},
    {"name": "modification_time", "type": ["null", "long"], "default": null},
    {"name": "tombstone", "type": "boolean", "default": false}
  ]
}`

var avroCodec = func() *goavro.Codec {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		panic(fmt.Sprintf("checkpoint: invalid avro schema: %s", err))
	}
	return codec
}()

func writeAvroFile(path string, records []record) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	defer f.Close()

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           avroCodec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: create avro writer: %w", err)
	}

	native := make([]any, 0, len(records))
	for _, r := range records {
		m := map[string]any{
			"fingerprint": r.Fingerprint,
			"position":    r.Position,
			"tombstone":   r.Tombstone,
		}
		if r.ModTimeUnix != nil {
			m["modification_time"] = map[string]any{"long": *r.ModTimeUnix}
		} else {
			m["modification_time"] = nil
		}
		native = append(native, m)
	}
	if err := writer.Append(native); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readAvroFile(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create avro reader: %w", err)
	}

	var out []record
	for reader.Scan() {
		native, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read avro record: %w", err)
		}
		m, ok := native.(map[string]any)
		if !ok {
			continue
		}
		r := record{
			Fingerprint: m["fingerprint"].(string),
			Position:    m["position"].(int64),
			Tombstone:   m["tombstone"].(bool),
		}
		if u, ok := m["modification_time"].(map[string]any); ok {
			if v, ok := u["long"].(int64); ok {
				r.ModTimeUnix = &v
			}
		}
		out = append(out, r)
	}
	return out, nil
}
