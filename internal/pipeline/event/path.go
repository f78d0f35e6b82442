// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

// SegmentKind discriminates the four shapes a Path element can take, ported
// from the segment enum in the upstream mapping-language value object:
// plain field, quoted field, array index, and a coalesce group (first
// alternative present wins).
type SegmentKind int

const (
	SegmentField SegmentKind = iota
	SegmentQuotedField
	SegmentIndex
	SegmentCoalesce
)

// PathSegment is one element of a Path. Exactly one of Field/Index/Alternatives
// is meaningful, selected by Kind.
type PathSegment struct {
	Kind         SegmentKind
	Field        string
	Index        int
	Alternatives []string
}

func Field(name string) PathSegment        { return PathSegment{Kind: SegmentField, Field: name} }
func QuotedField(name string) PathSegment  { return PathSegment{Kind: SegmentQuotedField, Field: name} }
func Index(i int) PathSegment              { return PathSegment{Kind: SegmentIndex, Index: i} }
func Coalesce(alts ...string) PathSegment  { return PathSegment{Kind: SegmentCoalesce, Alternatives: alts} }

// Path is a sequence of segments addressing a value inside an Object. Path
// equality is structural: two paths are equal iff they have the same length
// and every segment compares equal by kind and payload.
type Path []PathSegment

func (p Path) IsRoot() bool { return len(p) == 0 }

// Equal reports structural equality between two paths.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		a, b := p[i], other[i]
		if a.Kind != b.Kind {
			return false
		}
		switch a.Kind {
		case SegmentField, SegmentQuotedField:
			if a.Field != b.Field {
				return false
			}
		case SegmentIndex:
			if a.Index != b.Index {
				return false
			}
		case SegmentCoalesce:
			if len(a.Alternatives) != len(b.Alternatives) {
				return false
			}
			for j := range a.Alternatives {
				if a.Alternatives[j] != b.Alternatives[j] {
					return false
				}
			}
		}
	}
	return true
}

// String renders a human-readable dotted path, primarily for log messages
// and test failure output, not for round-tripping.
func (p Path) String() string {
	out := ""
	for i, seg := range p {
		if i > 0 {
			out += "."
		}
		switch seg.Kind {
		case SegmentField:
			out += seg.Field
		case SegmentQuotedField:
			out += `"` + seg.Field + `"`
		case SegmentIndex:
			out += "[" + itoa(seg.Index) + "]"
		case SegmentCoalesce:
			out += "(" + join(seg.Alternatives, "|") + ")"
		}
	}
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
