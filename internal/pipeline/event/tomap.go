// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import (
	"strconv"
	"time"
)

// ToMap flattens every field path an Object currently exposes into a nested
// map[string]any keyed by field name (array indices become string keys of a
// nested map rather than real slice elements). This is the shape Sink and
// Transform nodes that need to address event fields by name — an expr-lang
// environment, a JSON envelope, a line-protocol tag set — all start from.
func ToMap(o Object) map[string]any {
	root := map[string]any{}
	for _, p := range o.Paths() {
		v, ok := o.Get(p)
		if !ok {
			continue
		}
		setNested(root, p, ValueToAny(v))
	}
	return root
}

func setNested(root map[string]any, p Path, v any) {
	cur := root
	for i := 0; i < len(p); i++ {
		seg := p[i]
		key := seg.Field
		if seg.Kind == SegmentIndex {
			key = strconv.Itoa(seg.Index)
		}
		if i == len(p)-1 {
			cur[key] = v
			return
		}
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
}

// ValueToAny converts a single LogValue leaf to its native Go representation.
func ValueToAny(v LogValue) any {
	switch t := v.(type) {
	case BytesValue:
		return string(t)
	case IntValue:
		return int64(t)
	case FloatValue:
		return float64(t)
	case BoolValue:
		return bool(t)
	case TimestampValue:
		return time.Time(t)
	case RegexValue:
		return string(t)
	case NullValue:
		return nil
	default:
		return nil
	}
}

// AnyToValue converts a native Go value (as produced by an expr-lang
// evaluation, a decoded JSON document, and similar boundary crossings) back
// to a LogValue, for writing a field back into an Object. ok is false for a
// type with no LogValue representation.
func AnyToValue(v any) (LogValue, bool) {
	switch t := v.(type) {
	case string:
		return BytesValue(t), true
	case int:
		return IntValue(t), true
	case int64:
		return IntValue(t), true
	case float64:
		return FloatValue(t), true
	case float32:
		return FloatValue(t), true
	case bool:
		return BoolValue(t), true
	case time.Time:
		return TimestampValue(t), true
	case nil:
		return NullValue{}, true
	default:
		return nil, false
	}
}
