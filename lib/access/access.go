// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package access implements SONAR's access control on top of the
// namespace.
//
// Accounts and grants are themselves namespace objects (roles, users,
// permissions and network domains), persisted like any other type and
// managed over the protocol by callers with configure access on the
// "permission" base. [Policy] turns them into access levels for the
// namespace; [Authenticator] checks logins, restricts them to
// configured network domains and throttles repeated failures.
package access

import (
	"github.com/bureau-foundation/sonar/lib/namespace"
)

// Register adds the access-control types to ns.
func Register(ns *namespace.Namespace) error {
	for _, schema := range Schemas() {
		if _, err := ns.RegisterType(schema); err != nil {
			return err
		}
	}
	return nil
}
