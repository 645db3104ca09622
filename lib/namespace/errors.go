// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"errors"
	"fmt"
)

// Name errors. These are the kinds carried by *NamespaceError.
var (
	// ErrNameUnknown: the referenced type (or attribute) was never
	// registered.
	ErrNameUnknown = errors.New("name unknown")

	// ErrNameInvalid: the name is well formed but addresses the wrong
	// level for the operation, or an object that does not exist.
	ErrNameInvalid = errors.New("name invalid")

	// ErrNameExists: an object with the name already exists.
	ErrNameExists = errors.New("name exists")
)

// Attribute and permission errors. These are carried by *SonarError.
var (
	ErrPermission   = errors.New("permission denied")
	ErrNotGettable  = errors.New("attribute not gettable")
	ErrNotSettable  = errors.New("attribute not settable")
	ErrConversion   = errors.New("invalid attribute value")
	ErrNotCreatable = errors.New("type does not support create")
)

// NamespaceError reports a problem with the addressing of a request.
// It is recoverable and reported only to the requesting connection.
type NamespaceError struct {
	Kind error
	Name string
}

func (e *NamespaceError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Name)
}

func (e *NamespaceError) Unwrap() error { return e.Kind }

func nameUnknown(n string) error { return &NamespaceError{Kind: ErrNameUnknown, Name: n} }
func nameInvalid(n string) error { return &NamespaceError{Kind: ErrNameInvalid, Name: n} }
func nameExists(n string) error  { return &NamespaceError{Kind: ErrNameExists, Name: n} }

// SonarError reports an attribute conversion or permission failure on
// a specific name. Err is one of the sentinel errors above, possibly
// wrapping the underlying cause.
type SonarError struct {
	Name string
	Err  error
}

func (e *SonarError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Name)
}

func (e *SonarError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid type schema or startup
// configuration. It is fatal: a server must not start with one.
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}
