// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the graph package.
var (
	// ErrNotFound indicates the referenced execution or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates an operation was attempted from a
	// status that does not permit it, including lost claim races.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInternalConsistency indicates the topological sort could not
	// account for every node after cycle detection passed. Fatal,
	// non-retryable.
	ErrInternalConsistency = errors.New("internal consistency violation")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")
)

// CycleError reports one or more dependency cycles found at build time.
//
// Each path closes on itself: path[0] == path[len(path)-1]. The build is
// aborted and nothing is persisted; the caller fixes the edge set and
// rebuilds.
type CycleError struct {
	Paths [][]string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if len(e.Paths) == 0 {
		return "dependency cycle detected"
	}
	parts := make([]string, len(e.Paths))
	for i, p := range e.Paths {
		parts[i] = strings.Join(p, " -> ")
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, "; "))
}

// NewCycleError creates a CycleError from a single offending path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Paths: [][]string{path}}
}

// PersistenceError reports that a build or transition could not be durably
// recorded. It is always distinct from CycleError; callers branch on the
// error kind, never on message contents.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
