// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package name parses and represents SONAR names.
//
// A name addresses one of four levels of the namespace:
//
//	""                       root (all types)
//	"dms"                    type
//	"dms/V1"                 object
//	"dms/V1/msgCurrent"      attribute
//
// Names are immutable values. The zero Name is the root. A name is
// parsed strictly: empty segments, leading or trailing separators, and
// more than three segments are protocol errors, never truncated.
package name

import (
	"errors"
	"fmt"
	"strings"
)

// Separator divides the parts of a name.
const Separator = "/"

// ErrMalformed is returned when a string cannot be parsed as a name.
var ErrMalformed = errors.New("malformed name")

// Name is a parsed SONAR name. The invariant is that a non-empty
// attribute part implies a non-empty object part, which implies a
// non-empty type part.
type Name struct {
	typePart      string
	objectPart    string
	attributePart string
}

// Root is the name of the namespace root.
var Root = Name{}

// Parse parses a SONAR name string.
func Parse(s string) (Name, error) {
	if s == "" {
		return Root, nil
	}
	parts := strings.Split(s, Separator)
	if len(parts) > 3 {
		return Name{}, fmt.Errorf("%w: %q has %d segments", ErrMalformed, s, len(parts))
	}
	for _, part := range parts {
		if part == "" {
			return Name{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformed, s)
		}
	}
	var n Name
	n.typePart = parts[0]
	if len(parts) > 1 {
		n.objectPart = parts[1]
	}
	if len(parts) > 2 {
		n.attributePart = parts[2]
	}
	return n, nil
}

// MustParse is like Parse but panics on error. Intended for constant
// names in tests and static tables.
func MustParse(s string) Name {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// New builds a name from its parts. Trailing parts may be empty; a
// gap (an empty part followed by a non-empty one) or a part containing
// the separator is rejected.
func New(typePart, objectPart, attributePart string) (Name, error) {
	for _, part := range []string{typePart, objectPart, attributePart} {
		if strings.Contains(part, Separator) {
			return Name{}, fmt.Errorf("%w: segment %q contains %q", ErrMalformed, part, Separator)
		}
	}
	if attributePart != "" && objectPart == "" {
		return Name{}, fmt.Errorf("%w: attribute %q without object", ErrMalformed, attributePart)
	}
	if objectPart != "" && typePart == "" {
		return Name{}, fmt.Errorf("%w: object %q without type", ErrMalformed, objectPart)
	}
	return Name{typePart: typePart, objectPart: objectPart, attributePart: attributePart}, nil
}

// ValidSegment reports whether s can be used as one part of a name.
func ValidSegment(s string) bool {
	return s != "" && !strings.Contains(s, Separator)
}

// TypePart returns the type part (empty for root).
func (n Name) TypePart() string { return n.typePart }

// ObjectPart returns the object part (empty above object level).
func (n Name) ObjectPart() string { return n.objectPart }

// AttributePart returns the attribute part (empty above attribute level).
func (n Name) AttributePart() string { return n.attributePart }

// IsRoot reports whether n addresses the namespace root.
func (n Name) IsRoot() bool { return n.typePart == "" }

// IsType reports whether n addresses exactly a type.
func (n Name) IsType() bool { return n.typePart != "" && n.objectPart == "" }

// IsObject reports whether n addresses exactly an object.
func (n Name) IsObject() bool { return n.objectPart != "" && n.attributePart == "" }

// IsAttribute reports whether n addresses an attribute.
func (n Name) IsAttribute() bool { return n.attributePart != "" }

// Type returns n truncated to the type level.
func (n Name) Type() Name { return Name{typePart: n.typePart} }

// Object returns n truncated to the object level. For names above the
// object level the result equals n.
func (n Name) Object() Name { return Name{typePart: n.typePart, objectPart: n.objectPart} }

// Attribute returns the name of attribute a of the object n addresses.
func (n Name) Attribute(a string) Name {
	return Name{typePart: n.typePart, objectPart: n.objectPart, attributePart: a}
}

// ObjectName returns the "type/object" string of n.
func (n Name) ObjectName() string {
	return n.Object().String()
}

// String returns the wire form of n.
func (n Name) String() string {
	switch {
	case n.attributePart != "":
		return n.typePart + Separator + n.objectPart + Separator + n.attributePart
	case n.objectPart != "":
		return n.typePart + Separator + n.objectPart
	default:
		return n.typePart
	}
}

// Of returns the object-level name of a type and object name pair.
// Callers are responsible for passing valid segments.
func Of(typeName, objectName string) Name {
	return Name{typePart: typeName, objectPart: objectName}
}
