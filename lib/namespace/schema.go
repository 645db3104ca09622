// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"fmt"
	"strconv"

	"github.com/bureau-foundation/sonar/lib/name"
)

// Object is anything stored in the namespace. Implementations must be
// pointer types: the namespace compares objects by identity.
type Object interface {
	TypeName() string
	ObjectName() string

	// Destroy releases resources held by the object. It is called once
	// after the object has been removed by DestroyObject.
	Destroy()
}

// Schema describes one registered type.
type Schema struct {
	// Type is the type name, a single name segment.
	Type string

	// Base is the permission scope. Access checks for this type are
	// made against Base. Empty means the type is its own base.
	Base string

	// Persistent types have their creations, attribute writes and
	// removals reported to the namespace's Persister.
	Persistent bool

	// New constructs a fresh object. Nil means clients cannot create
	// objects of this type.
	New func(objectName string) (Object, error)

	// Load reconstructs a persisted object from stored attribute
	// values. Nil means New followed by each attribute's setter.
	Load func(objectName string, values map[string][]string) (Object, error)

	// Attributes in enumeration order.
	Attributes []Attribute
}

// Attribute is a named accessor pair on a type.
type Attribute struct {
	Name string

	// Get returns the attribute's value. Nil means the attribute is
	// write-only.
	Get func(Object) []string

	// Set converts and stores a value. Nil means the attribute is
	// read-only. Errors are reported to the client; wrap ErrConversion
	// for malformed values.
	Set func(Object, []string) error

	// Hidden attributes are readable by the persistence layer only.
	// They are never enumerated or returned by GetAttribute.
	Hidden bool

	// Level required to set the attribute. Zero means AccessConfigure.
	Level AccessLevel
}

// WithLevel returns a copy of a requiring level to set.
func (a Attribute) WithLevel(level AccessLevel) Attribute {
	a.Level = level
	return a
}

// AsHidden returns a copy of a marked hidden.
func (a Attribute) AsHidden() Attribute {
	a.Hidden = true
	return a
}

func (a Attribute) gettable() bool { return a.Get != nil && !a.Hidden }
func (a Attribute) settable() bool { return a.Set != nil }

func (a Attribute) setLevel() AccessLevel {
	if a.Level == AccessNone {
		return AccessConfigure
	}
	return a.Level
}

// Strings builds an attribute whose value is a list of strings. Either
// accessor may be nil.
func Strings[T Object](attr string, get func(T) []string, set func(T, []string) error) Attribute {
	a := Attribute{Name: attr}
	if get != nil {
		a.Get = func(o Object) []string {
			if t, ok := o.(T); ok {
				return get(t)
			}
			return nil
		}
	}
	if set != nil {
		a.Set = func(o Object, v []string) error {
			t, ok := o.(T)
			if !ok {
				return fmt.Errorf("%w: object %T", ErrConversion, o)
			}
			return set(t, v)
		}
	}
	return a
}

// String builds a single-valued string attribute. An empty value list
// sets the empty string.
func String[T Object](attr string, get func(T) string, set func(T, string) error) Attribute {
	var g func(T) []string
	var s func(T, []string) error
	if get != nil {
		g = func(t T) []string { return []string{get(t)} }
	}
	if set != nil {
		s = func(t T, v []string) error {
			switch len(v) {
			case 0:
				return set(t, "")
			case 1:
				return set(t, v[0])
			default:
				return fmt.Errorf("%w: expected one value, got %d", ErrConversion, len(v))
			}
		}
	}
	return Strings(attr, g, s)
}

// Bool builds a boolean attribute, formatted "true" or "false".
func Bool[T Object](attr string, get func(T) bool, set func(T, bool) error) Attribute {
	return scalar(attr, get, set, strconv.FormatBool, strconv.ParseBool)
}

// Int builds an integer attribute.
func Int[T Object](attr string, get func(T) int, set func(T, int) error) Attribute {
	return scalar(attr, get, set, strconv.Itoa, strconv.Atoi)
}

func scalar[T Object, V any](attr string, get func(T) V, set func(T, V) error,
	format func(V) string, parse func(string) (V, error)) Attribute {
	var g func(T) []string
	var s func(T, []string) error
	if get != nil {
		g = func(t T) []string { return []string{format(get(t))} }
	}
	if set != nil {
		s = func(t T, v []string) error {
			if len(v) != 1 {
				return fmt.Errorf("%w: expected one value, got %d", ErrConversion, len(v))
			}
			parsed, err := parse(v[0])
			if err != nil {
				return fmt.Errorf("%w: %q", ErrConversion, v[0])
			}
			return set(t, parsed)
		}
	}
	return Strings(attr, g, s)
}

// validate checks a schema before registration and returns it with
// defaults applied.
func (s Schema) validate() (Schema, error) {
	if !name.ValidSegment(s.Type) {
		return s, &ConfigurationError{Subject: fmt.Sprintf("type %q", s.Type), Reason: "type name is not a valid name segment"}
	}
	if s.Base == "" {
		s.Base = s.Type
	} else if !name.ValidSegment(s.Base) {
		return s, &ConfigurationError{Subject: "type " + s.Type, Reason: fmt.Sprintf("base %q is not a valid name segment", s.Base)}
	}
	if s.Persistent && s.New == nil && s.Load == nil {
		return s, &ConfigurationError{Subject: "type " + s.Type, Reason: "persistent type has neither New nor Load"}
	}
	seen := make(map[string]bool, len(s.Attributes))
	for _, a := range s.Attributes {
		subject := "attribute " + s.Type + "/" + a.Name
		if !name.ValidSegment(a.Name) {
			return s, &ConfigurationError{Subject: subject, Reason: "attribute name is not a valid name segment"}
		}
		if seen[a.Name] {
			return s, &ConfigurationError{Subject: subject, Reason: "duplicate attribute"}
		}
		seen[a.Name] = true
		if a.Get == nil && a.Set == nil {
			return s, &ConfigurationError{Subject: subject, Reason: "attribute has neither getter nor setter"}
		}
		if a.Level < AccessNone || a.Level > AccessSystem {
			return s, &ConfigurationError{Subject: subject, Reason: "invalid access level " + a.Level.String()}
		}
	}
	return s, nil
}
