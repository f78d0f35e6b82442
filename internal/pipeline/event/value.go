// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package event implements the Event/Value/Path/Object data model: the typed
// log and metric values that flow between Source, Transform and Sink nodes,
// and the path-addressing protocol used to read and write them.
package event

import (
	"fmt"
	"time"
)

// LogValue is the polymorphic value stored at a leaf of a log Event's object
// tree. Concrete types below cover every variant named for log values: bytes,
// i64, f64, bool, timestamp, regex, array, map, null.
type LogValue interface {
	logValue()
}

type BytesValue []byte

type IntValue int64

type FloatValue float64

type BoolValue bool

type TimestampValue time.Time

// RegexValue stores the original pattern text. Log pipelines carry regexes as
// values (for example captured from a config file) without compiling them
// eagerly; a Transform that needs to match compiles on demand.
type RegexValue string

type ArrayValue []LogValue

// MapValue is an ordered mapping from field name to LogValue. Insertion order
// is preserved in Keys so that Paths() and serialization are deterministic;
// Fields gives O(1) lookup.
type MapValue struct {
	Keys   []string
	Fields map[string]LogValue
}

type NullValue struct{}

func (BytesValue) logValue()     {}
func (IntValue) logValue()       {}
func (FloatValue) logValue()     {}
func (BoolValue) logValue()      {}
func (TimestampValue) logValue() {}
func (RegexValue) logValue()     {}
func (ArrayValue) logValue()     {}
func (*MapValue) logValue()      {}
func (NullValue) logValue()      {}

// NewMap returns an empty, ready-to-use MapValue.
func NewMap() *MapValue {
	return &MapValue{Fields: make(map[string]LogValue)}
}

// Set inserts or overwrites a single field, preserving the original position
// of the key in Keys if it already existed.
func (m *MapValue) Set(key string, v LogValue) {
	if _, ok := m.Fields[key]; !ok {
		m.Keys = append(m.Keys, key)
	}
	if m.Fields == nil {
		m.Fields = make(map[string]LogValue)
	}
	m.Fields[key] = v
}

// Delete removes a field, returning true if it was present.
func (m *MapValue) Delete(key string) bool {
	if _, ok := m.Fields[key]; !ok {
		return false
	}
	delete(m.Fields, key)
	for i, k := range m.Keys {
		if k == key {
			m.Keys = append(m.Keys[:i], m.Keys[i+1:]...)
			break
		}
	}
	return true
}

func (m *MapValue) String() string {
	return fmt.Sprintf("MapValue(%d fields)", len(m.Keys))
}
