// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "time"

// =============================================================================
// NODE STATUS
// =============================================================================

// NodeStatus represents the live execution state of a transaction node.
//
// The colors follow the classic DFS convention: WHITE is unvisited/ready,
// GRAY is in progress, BLACK is completed. BLOCKED marks nodes waiting on
// unfinished predecessors; ERROR marks failed nodes. BLACK and ERROR are
// terminal within an execution.
type NodeStatus string

const (
	// StatusWhite is a node that is ready to be claimed (in-degree zero).
	StatusWhite NodeStatus = "WHITE"

	// StatusGray is a node currently being executed by a worker.
	StatusGray NodeStatus = "GRAY"

	// StatusBlack is a node that completed successfully.
	StatusBlack NodeStatus = "BLACK"

	// StatusBlocked is a node waiting on unfinished blocking predecessors.
	StatusBlocked NodeStatus = "BLOCKED"

	// StatusError is a node whose execution failed.
	StatusError NodeStatus = "ERROR"
)

// String returns the string representation of the status.
func (s NodeStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is terminal for this execution.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusBlack || s == StatusError
}

// =============================================================================
// EDGE TYPES
// =============================================================================

// EdgeType classifies a dependency edge.
type EdgeType string

const (
	// EdgeSequential is a strict happens-before dependency.
	EdgeSequential EdgeType = "SEQUENTIAL"

	// EdgeConditional carries a condition expression. It is treated as
	// blocking, identical to SEQUENTIAL; the expression is not evaluated
	// at build time.
	EdgeConditional EdgeType = "CONDITIONAL"

	// EdgeParallelSafe is informational only and never gates execution.
	EdgeParallelSafe EdgeType = "PARALLEL_SAFE"

	// EdgeResourceLock serializes access to a shared resource.
	EdgeResourceLock EdgeType = "RESOURCE_LOCK"

	// EdgeDataConsistency orders transactions that share data sets.
	EdgeDataConsistency EdgeType = "DATA_CONSISTENCY"
)

// Blocking returns true if this edge type constrains execution order and
// counts toward in/out-degree.
func (t EdgeType) Blocking() bool {
	switch t {
	case EdgeSequential, EdgeConditional, EdgeResourceLock, EdgeDataConsistency:
		return true
	default:
		return false
	}
}

// Valid returns true if t is a recognized edge type.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeSequential, EdgeConditional, EdgeParallelSafe,
		EdgeResourceLock, EdgeDataConsistency:
		return true
	default:
		return false
	}
}

// =============================================================================
// DATA MODEL
// =============================================================================

// TransactionNode is one unit of work in an execution graph.
//
// Nodes are created WHITE or BLOCKED when the graph is built and mutated
// only by the coordinator. They are never deleted individually; the whole
// execution's graph is cleared at once.
type TransactionNode struct {
	ID            string     `json:"id" validate:"required"`
	ExecutionID   string     `json:"execution_id"`
	InDegree      int        `json:"in_degree"`
	OutDegree     int        `json:"out_degree"`
	OrderIndex    int        `json:"order_index"`
	Level         int        `json:"level"`
	Status        NodeStatus `json:"status"`
	WorkerID      string     `json:"worker_id,omitempty"`
	StartedAt     time.Time  `json:"started_at,omitzero"`
	EndedAt       time.Time  `json:"ended_at,omitzero"`

	// BlockedSince is when the node entered (or was created) BLOCKED.
	// Persisted with the node so max-wait monitoring survives restarts;
	// cleared when the node leaves BLOCKED.
	BlockedSince time.Time `json:"blocked_since,omitzero"`

	CorrelationID string `json:"correlation_id,omitempty"`
	BusinessDate  string `json:"business_date,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Clone returns a copy of the node safe to hand to callers.
func (n *TransactionNode) Clone() *TransactionNode {
	c := *n
	return &c
}

// DependencyEdge is an ordered (Source, Target) dependency between two
// transactions. Source must run before Target when the edge is blocking.
//
// Invariants: Source != Target, and at most one active edge exists per
// ordered pair.
type DependencyEdge struct {
	Source          string        `json:"source" validate:"required"`
	Target          string        `json:"target" validate:"required"`
	Type            EdgeType      `json:"type" validate:"required"`
	Priority        int           `json:"priority" validate:"min=1,max=100"`
	MaxWait         time.Duration `json:"max_wait,omitempty"`
	RetryPolicy     string        `json:"retry_policy,omitempty"`
	Active          bool          `json:"active"`
	ComplianceLevel string        `json:"compliance_level,omitempty"`
}

// Blocking returns true if this edge gates execution order.
func (e *DependencyEdge) Blocking() bool {
	return e.Type.Blocking()
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// Adjacency holds both directions of the blocking dependency relation.
// Every node in the input set has an entry in both maps, possibly empty.
type Adjacency struct {
	// Forward maps a node to the nodes that depend on it (its successors).
	Forward map[string][]string

	// Reverse maps a node to the nodes it depends on (its predecessors).
	Reverse map[string][]string
}

// CycleResult reports the outcome of cycle detection.
//
// When HasCycle is true, Cycle is the offending path with the starting
// node repeated as the closing element, so Cycle[0] == Cycle[len-1].
// A self-edge yields the minimal two-element path [A, A].
type CycleResult struct {
	HasCycle bool
	Cycle    []string
}

// LevelResult is the output of the level scheduler.
type LevelResult struct {
	// Levels partitions the nodes into parallel-safe waves. All nodes in
	// Levels[i] may run concurrently once every earlier level completed.
	Levels [][]string

	// Order is the zero-based topological rank of every node.
	Order map[string]int
}

// BuildResult is returned by a successful graph build.
type BuildResult struct {
	ExecutionID   string
	CorrelationID string
	Order         map[string]int
	Levels        [][]string
	Edges         []DependencyEdge
}

// Summary is a point-in-time aggregate of an execution's node statuses.
type Summary struct {
	ExecutionID   string   `json:"execution_id"`
	Total         int      `json:"total"`
	Completed     int      `json:"completed"`
	InProgress    int      `json:"in_progress"`
	Ready         int      `json:"ready"`
	Blocked       int      `json:"blocked"`
	Errored       int      `json:"errored"`
	CompletionPct float64  `json:"completion_pct"`

	// Stuck lists blocked nodes that can never run because a predecessor
	// (direct or transitive) ended in ERROR.
	Stuck []string `json:"stuck,omitempty"`

	// Overdue lists blocked nodes that have waited longer than the
	// tightest max-wait among their incoming blocking edges. This is a
	// monitoring signal, not a transition.
	Overdue []string `json:"overdue,omitempty"`
}

// Done returns true when every node reached a terminal status or is stuck
// behind one that did.
func (s *Summary) Done() bool {
	return s.Total == s.Completed+s.Errored+len(s.Stuck)
}
