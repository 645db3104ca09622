// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
	"path/filepath"
)

// Fatal reports err on stderr, prefixed with the program name, and
// exits with status 1. Binaries call it from main with the error
// returned by run, before or after the logger exists.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s: error: %v\n", filepath.Base(os.Args[0]), err)
	os.Exit(1)
}
