// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

// Object is the polymorphic view implemented by both free-form log values and
// the fixed-schema metric view: insert a value at a path, read it back,
// remove it (optionally compacting now-empty parent containers), and list
// every concrete path currently populated.
type Object interface {
	Insert(p Path, v LogValue) error
	Get(p Path) (LogValue, bool)
	Remove(p Path, compact bool) bool
	Paths() []Path
}

// LogObject adapts a *MapValue root to the Object protocol. A Coalesce
// segment resolves, at read time, to the first alternative field present;
// at write time it is an error (coalesce groups are not valid insertion
// targets, matching the read-only nature of alternative-selection paths).
type LogObject struct {
	Root *MapValue
}

func NewLogObject() *LogObject {
	return &LogObject{Root: NewMap()}
}

// Insert walks p, creating intermediate maps as needed. Inserting into an
// array at an index beyond its current length pads the gap with NullValue.
// Inserting into a non-map value at a field segment replaces it with a new
// map rooted at that field, matching the documented "retype on conflict"
// behavior.
func (o *LogObject) Insert(p Path, v LogValue) error {
	if len(p) == 0 {
		if m, ok := v.(*MapValue); ok {
			o.Root = m
			return nil
		}
		return errNotAMap
	}
	return insertInto(anyContainer{mapv: o.Root}, p, v)
}

func (o *LogObject) Get(p Path) (LogValue, bool) {
	if len(p) == 0 {
		return o.Root, true
	}
	return getFrom(anyContainer{mapv: o.Root}, p)
}

func (o *LogObject) Remove(p Path, compact bool) bool {
	if len(p) == 0 {
		o.Root = NewMap()
		return true
	}
	ok := removeFrom(anyContainer{mapv: o.Root}, p, compact)
	return ok
}

func (o *LogObject) Paths() []Path {
	var out []Path
	collectPaths(o.Root, nil, &out)
	return out
}

var errNotAMap = simpleErr("cannot replace root with non-map value")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// anyContainer is a small sum type over the two container kinds a path
// segment can descend into: a map or an array. Exactly one field is set.
type anyContainer struct {
	mapv *MapValue
	arr  *ArrayValue
}

func insertInto(c anyContainer, p Path, v LogValue) error {
	seg := p[0]
	rest := p[1:]

	switch seg.Kind {
	case SegmentField, SegmentQuotedField:
		if c.mapv == nil {
			return errNotAMap
		}
		if len(rest) == 0 {
			c.mapv.Set(seg.Field, v)
			return nil
		}
		child, ok := c.mapv.Fields[seg.Field]
		next := childContainer(child, rest[0])
		if !ok || !containerMatches(child, rest[0]) {
			next = freshContainer(rest[0])
			c.mapv.Set(seg.Field, containerValue(next))
		}
		if err := insertInto(next, rest, v); err != nil {
			return err
		}
		c.mapv.Set(seg.Field, containerValue(next))
		return nil

	case SegmentIndex:
		if c.arr == nil {
			return errNotAMap
		}
		for len(*c.arr) <= seg.Index {
			*c.arr = append(*c.arr, NullValue{})
		}
		if len(rest) == 0 {
			(*c.arr)[seg.Index] = v
			return nil
		}
		child := (*c.arr)[seg.Index]
		next := childContainer(child, rest[0])
		if !containerMatches(child, rest[0]) {
			next = freshContainer(rest[0])
		}
		if err := insertInto(next, rest, v); err != nil {
			return err
		}
		(*c.arr)[seg.Index] = containerValue(next)
		return nil

	case SegmentCoalesce:
		return simpleErr("cannot insert through a coalesce segment")
	}
	return simpleErr("unknown path segment kind")
}

func containerMatches(v LogValue, nextSeg PathSegment) bool {
	switch nextSeg.Kind {
	case SegmentIndex:
		_, ok := v.(ArrayValue)
		return ok
	default:
		_, ok := v.(*MapValue)
		return ok
	}
}

func childContainer(v LogValue, nextSeg PathSegment) anyContainer {
	switch t := v.(type) {
	case *MapValue:
		return anyContainer{mapv: t}
	case ArrayValue:
		arr := t
		return anyContainer{arr: &arr}
	default:
		return freshContainer(nextSeg)
	}
}

func freshContainer(nextSeg PathSegment) anyContainer {
	if nextSeg.Kind == SegmentIndex {
		arr := ArrayValue{}
		return anyContainer{arr: &arr}
	}
	return anyContainer{mapv: NewMap()}
}

func containerValue(c anyContainer) LogValue {
	if c.mapv != nil {
		return c.mapv
	}
	return *c.arr
}

func getFrom(c anyContainer, p Path) (LogValue, bool) {
	seg := p[0]
	rest := p[1:]

	switch seg.Kind {
	case SegmentField, SegmentQuotedField:
		if c.mapv == nil {
			return nil, false
		}
		child, ok := c.mapv.Fields[seg.Field]
		if !ok {
			return nil, false
		}
		if len(rest) == 0 {
			return child, true
		}
		return getFrom(childContainer(child, rest[0]), rest)

	case SegmentIndex:
		if c.arr == nil {
			return nil, false
		}
		if seg.Index < 0 || seg.Index >= len(*c.arr) {
			return nil, false
		}
		child := (*c.arr)[seg.Index]
		if len(rest) == 0 {
			return child, true
		}
		return getFrom(childContainer(child, rest[0]), rest)

	case SegmentCoalesce:
		if c.mapv == nil {
			return nil, false
		}
		for _, alt := range seg.Alternatives {
			if child, ok := c.mapv.Fields[alt]; ok {
				if len(rest) == 0 {
					return child, true
				}
				return getFrom(childContainer(child, rest[0]), rest)
			}
		}
		return nil, false
	}
	return nil, false
}

func removeFrom(c anyContainer, p Path, compact bool) bool {
	seg := p[0]
	rest := p[1:]

	switch seg.Kind {
	case SegmentField, SegmentQuotedField:
		if c.mapv == nil {
			return false
		}
		if len(rest) == 0 {
			return c.mapv.Delete(seg.Field)
		}
		child, ok := c.mapv.Fields[seg.Field]
		if !ok {
			return false
		}
		removed := removeFrom(childContainer(child, rest[0]), rest, compact)
		if removed && compact && isEmptyContainer(c.mapv.Fields[seg.Field]) {
			c.mapv.Delete(seg.Field)
		}
		return removed

	case SegmentIndex:
		if c.arr == nil || seg.Index < 0 || seg.Index >= len(*c.arr) {
			return false
		}
		if len(rest) == 0 {
			(*c.arr)[seg.Index] = NullValue{}
			return true
		}
		child := (*c.arr)[seg.Index]
		removed := removeFrom(childContainer(child, rest[0]), rest, compact)
		if removed && compact && isEmptyContainer((*c.arr)[seg.Index]) {
			(*c.arr)[seg.Index] = NullValue{}
		}
		return removed

	case SegmentCoalesce:
		if c.mapv == nil {
			return false
		}
		for _, alt := range seg.Alternatives {
			if _, ok := c.mapv.Fields[alt]; ok {
				if len(rest) == 0 {
					return c.mapv.Delete(alt)
				}
				child := c.mapv.Fields[alt]
				removed := removeFrom(childContainer(child, rest[0]), rest, compact)
				if removed && compact && isEmptyContainer(c.mapv.Fields[alt]) {
					c.mapv.Delete(alt)
				}
				return removed
			}
		}
		return false
	}
	return false
}

func isEmptyContainer(v LogValue) bool {
	switch t := v.(type) {
	case *MapValue:
		return len(t.Keys) == 0
	case ArrayValue:
		return len(t) == 0
	default:
		return false
	}
}

func collectPaths(v LogValue, prefix Path, out *[]Path) {
	switch t := v.(type) {
	case *MapValue:
		for _, k := range t.Keys {
			p := append(append(Path{}, prefix...), Field(k))
			collectPaths(t.Fields[k], p, out)
		}
	case ArrayValue:
		for i := range t {
			p := append(append(Path{}, prefix...), Index(i))
			collectPaths(t[i], p, out)
		}
	default:
		if len(prefix) > 0 {
			*out = append(*out, prefix)
		}
	}
}
