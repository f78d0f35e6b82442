// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "testing"

func TestToMapNestsFieldsByPath(t *testing.T) {
	o := NewLogObject()
	o.Insert(Path{Field("user"), Field("name")}, BytesValue("alice"))
	o.Insert(Path{Field("count")}, IntValue(3))

	m := ToMap(o)
	user, ok := m["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested user map, got %#v", m["user"])
	}
	if user["name"] != "alice" {
		t.Fatalf("got %v, want alice", user["name"])
	}
	if m["count"] != int64(3) {
		t.Fatalf("got %v, want 3", m["count"])
	}
}

func TestAnyToValueRoundTrip(t *testing.T) {
	cases := []any{"x", int64(5), 1.5, true, nil}
	for _, c := range cases {
		v, ok := AnyToValue(c)
		if !ok {
			t.Fatalf("AnyToValue(%#v) not ok", c)
		}
		if back := ValueToAny(v); back != c {
			t.Fatalf("round trip %#v -> %#v -> %#v", c, v, back)
		}
	}
}
