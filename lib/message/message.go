// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package message implements SONAR wire framing.
//
// A message stream is a sequence of frames. Each frame is one ASCII
// code byte, zero or more parameters each introduced by the unit
// separator (0x1F), and a terminating record separator (0x1E):
//
//	a 0x1F widget/w1/color 0x1F red 0x1E
//
// Parameters are opaque strings that must not contain either
// separator. A frame with no parameters ("t" 0x1E) is distinct from a
// frame carrying one empty parameter ("t" 0x1F 0x1E); enumerations use
// the former as their closing marker.
//
// The [Decoder] is incremental: bytes are fed as they arrive and
// complete frames are returned one at a time, so a reader never blocks
// on a partial frame.
package message

import (
	"errors"
	"fmt"
)

const (
	// RecordSeparator terminates a frame.
	RecordSeparator byte = 0x1E

	// UnitSeparator introduces each parameter.
	UnitSeparator byte = 0x1F
)

// Code identifies the kind of a frame.
type Code byte

const (
	Quit      Code = 'q'
	Login     Code = 'l'
	Password  Code = 'p'
	Enumerate Code = 'e'
	Ignore    Code = 'i'
	Object    Code = 'o'
	Remove    Code = 'r'
	Attribute Code = 'a'
	Type      Code = 't'
	Show      Code = 's'
)

// String returns the protocol name of the code.
func (c Code) String() string {
	switch c {
	case Quit:
		return "QUIT"
	case Login:
		return "LOGIN"
	case Password:
		return "PASSWORD"
	case Enumerate:
		return "ENUMERATE"
	case Ignore:
		return "IGNORE"
	case Object:
		return "OBJECT"
	case Remove:
		return "REMOVE"
	case Attribute:
		return "ATTRIBUTE"
	case Type:
		return "TYPE"
	case Show:
		return "SHOW"
	default:
		return fmt.Sprintf("Code(%#02x)", byte(c))
	}
}

// Valid reports whether c is a known code.
func (c Code) Valid() bool {
	switch c {
	case Quit, Login, Password, Enumerate, Ignore, Object, Remove, Attribute, Type, Show:
		return true
	}
	return false
}

var (
	ErrUnknownCode   = errors.New("message: unknown code")
	ErrInvalidParam  = errors.New("message: parameter contains a separator")
	ErrFrameTooLarge = errors.New("message: frame too large")
	ErrEmptyFrame    = errors.New("message: empty frame")
)

// Frame is one decoded message.
type Frame struct {
	Code   Code
	Params []string
}

// Param returns parameter i, or "" if the frame has fewer parameters.
func (f Frame) Param(i int) string {
	if i < len(f.Params) {
		return f.Params[i]
	}
	return ""
}

// Limits constrains decoder memory use.
type Limits struct {
	MaxFrameBytes int
}

// DefaultLimits returns the standard frame limits.
func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 1024 * 1024}
}

// Encoder accepts frames for output. Namespace enumeration and the
// task processor write through this interface so that the same code
// can target a connection queue or an in-memory buffer.
type Encoder interface {
	Encode(code Code, params ...string) error
}
