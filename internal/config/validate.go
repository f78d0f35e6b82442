// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate compiles schema and checks instance against it, calling
// cclog.Fatalf on any failure. Startup configuration errors are not
// recoverable, so there is no error return here; validateInstance below is
// the pure, testable counterpart.
func Validate(schema string, instance json.RawMessage) {
	if err := validateInstance(schema, instance); err != nil {
		cclog.Fatalf("[CONFIG]> %s", err)
	}
}

func validateInstance(schemaStr string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("schema.json", schemaStr)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return err
	}

	return sch.Validate(v)
}
