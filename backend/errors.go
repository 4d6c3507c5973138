// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package backend

import "fmt"

// SpawnError means the sink command could not be launched at all (missing
// binary, permission denied).
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("backend: spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WriteError means the sink's input pipe is closed; callers treat it the
// same as a process exit.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("backend: write: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
