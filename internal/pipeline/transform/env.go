// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transform

import "github.com/flowmesh-io/flowmesh-agent/internal/pipeline/event"

func buildEnvMap(o event.Object) map[string]any {
	return event.ToMap(o)
}

func anyToLogValue(v any) (event.LogValue, bool) {
	return event.AnyToValue(v)
}
