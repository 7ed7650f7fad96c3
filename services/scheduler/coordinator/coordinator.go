// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coordinator owns the live per-node state of execution graphs and
// the operations workers use to claim and report work.
//
// Each execution's graph is isolated: there is no cross-execution shared
// mutable state. The build phase (builder, cycle detector, level scheduler
// in the graph package) is pure and single-writer; everything mutable
// lives here, behind a per-execution lock.
package coordinator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

// execution is the live state for one execution ID. All fields are guarded
// by mu; the per-execution lock serializes status transitions and the
// in-degree decrements they cascade to dependents.
type execution struct {
	mu sync.RWMutex

	id    string
	nodes map[string]*graph.TransactionNode

	// forward maps a node to its blocking successors.
	forward map[string][]string

	// maxWait is the tightest incoming max-wait per node, zero if none of
	// the incoming edges carries one. Blocked-wait clocks live on the
	// nodes themselves (BlockedSince), so they survive restarts.
	maxWait map[string]time.Duration

	registeredAt time.Time
}

// Coordinator tracks live execution graphs and applies status transitions.
//
// Description:
//
//	Coordinator is the only component allowed to mutate node state after
//	the build phase. MarkStarted is a compare-and-transition: two workers
//	racing on the same ready node get exactly one success and one
//	ErrInvalidTransition. MarkCompleted atomically decrements dependents'
//	in-degrees; the decrement is visible to any GetReady call that starts
//	after MarkCompleted returns.
//
// Thread Safety:
//
//	Safe for concurrent use. Operations on different executions never
//	contend with each other.
type Coordinator struct {
	mu         sync.RWMutex
	executions map[string]*execution
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Coordinator.
//
// Inputs:
//
//	logger - Logger for transition logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Coordinator - The coordinator, with no executions registered.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		executions: make(map[string]*execution),
		logger:     logger,
		now:        time.Now,
	}
}

// Register installs the live graph for an execution.
//
// Description:
//
//	Takes ownership of the node set and blocking adjacency produced by
//	the build phase. Nodes arriving without a status are derived from
//	their in-degree: zero starts WHITE, anything else BLOCKED. Nodes with
//	a status (the restore path) keep it, and a BLOCKED node keeps its
//	persisted BlockedSince so overdue monitoring does not reset across
//	restarts. Registering an execution ID that
//	already exists replaces the previous graph (the rebuild path); the
//	replacement is logged.
//
// Inputs:
//
//	executionID - The execution whose graph is being installed.
//	nodes - Fully initialized nodes, keyed by ID in the coordinator.
//	adj - Blocking adjacency from graph.BuildAdjacency.
//	edges - The persisted blocking edges; used for max-wait bookkeeping.
//
// Outputs:
//
//	error - ErrInvalidInput for an empty execution ID or nil node.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) Register(executionID string, nodes []*graph.TransactionNode, adj graph.Adjacency, edges []graph.DependencyEdge) error {
	if executionID == "" {
		return fmt.Errorf("%w: executionID must not be empty", graph.ErrInvalidInput)
	}

	now := c.now()
	exec := &execution{
		id:           executionID,
		nodes:        make(map[string]*graph.TransactionNode, len(nodes)),
		forward:      make(map[string][]string, len(nodes)),
		maxWait:      make(map[string]time.Duration),
		registeredAt: now,
	}

	for _, n := range nodes {
		if n == nil {
			return fmt.Errorf("%w: node must not be nil", graph.ErrInvalidInput)
		}
		nc := n.Clone()
		nc.ExecutionID = executionID
		if nc.Status == "" {
			if nc.InDegree == 0 {
				nc.Status = graph.StatusWhite
			} else {
				nc.Status = graph.StatusBlocked
			}
		}
		// A restored node keeps its persisted blocked-wait clock; a fresh
		// one starts it now.
		if nc.Status == graph.StatusBlocked && nc.BlockedSince.IsZero() {
			nc.BlockedSince = now
		}
		exec.nodes[nc.ID] = nc
	}

	for id, succs := range adj.Forward {
		cp := make([]string, len(succs))
		copy(cp, succs)
		exec.forward[id] = cp
	}

	for _, e := range edges {
		if e.MaxWait <= 0 {
			continue
		}
		cur, ok := exec.maxWait[e.Target]
		if !ok || e.MaxWait < cur {
			exec.maxWait[e.Target] = e.MaxWait
		}
	}

	c.mu.Lock()
	_, replaced := c.executions[executionID]
	c.executions[executionID] = exec
	c.mu.Unlock()

	if replaced {
		c.logger.Warn("execution graph replaced",
			slog.String("execution_id", executionID),
			slog.Int("nodes", len(nodes)),
		)
	} else {
		c.logger.Info("execution graph registered",
			slog.String("execution_id", executionID),
			slog.Int("nodes", len(nodes)),
		)
	}
	return nil
}

// lookup returns the live execution, or ErrNotFound.
func (c *Coordinator) lookup(executionID string) (*execution, error) {
	c.mu.RLock()
	exec, ok := c.executions[executionID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", graph.ErrNotFound, executionID)
	}
	return exec, nil
}

// GetReady returns the nodes currently claimable: status WHITE with
// in-degree zero.
//
// Description:
//
//	Returns a snapshot of clones, not a live view; it is safe to call
//	concurrently with transitions. Nodes are ordered by topological order
//	index so workers drain the schedule front-to-back.
//
// Outputs:
//
//	[]*graph.TransactionNode - Cloned ready nodes, possibly empty.
//	error - ErrNotFound for an unknown execution.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) GetReady(executionID string) ([]*graph.TransactionNode, error) {
	exec, err := c.lookup(executionID)
	if err != nil {
		return nil, err
	}

	exec.mu.RLock()
	defer exec.mu.RUnlock()

	ready := make([]*graph.TransactionNode, 0)
	for _, n := range exec.nodes {
		if n.Status == graph.StatusWhite && n.InDegree == 0 {
			ready = append(ready, n.Clone())
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].OrderIndex < ready[j].OrderIndex
	})
	return ready, nil
}

// MarkStarted claims a node for a worker.
//
// Description:
//
//	Compare-and-transition: requires current status WHITE or BLOCKED with
//	in-degree zero, and atomically moves the node to GRAY, recording the
//	start time and worker assignment. When two callers race on the same
//	node, exactly one succeeds; the loser receives ErrInvalidTransition
//	and must not retry blindly.
//
// Outputs:
//
//	*graph.TransactionNode - Clone of the claimed node.
//	graph.NodeStatus - The status the node held before the claim (WHITE
//	or BLOCKED), for transition reporting.
//	error - ErrNotFound or ErrInvalidTransition.
//
// Thread Safety: Safe for concurrent use; at-most-one-worker-per-node.
func (c *Coordinator) MarkStarted(executionID, nodeID, workerID string) (*graph.TransactionNode, graph.NodeStatus, error) {
	exec, err := c.lookup(executionID)
	if err != nil {
		return nil, "", err
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	n, ok := exec.nodes[nodeID]
	if !ok {
		return nil, "", fmt.Errorf("%w: node %s in execution %s", graph.ErrNotFound, nodeID, executionID)
	}
	if n.Status != graph.StatusWhite && n.Status != graph.StatusBlocked {
		return nil, "", fmt.Errorf("%w: cannot start node %s from status %s",
			graph.ErrInvalidTransition, nodeID, n.Status)
	}
	if n.InDegree != 0 {
		return nil, "", fmt.Errorf("%w: node %s has %d unfinished dependencies",
			graph.ErrInvalidTransition, nodeID, n.InDegree)
	}

	from := n.Status
	n.Status = graph.StatusGray
	n.WorkerID = workerID
	n.StartedAt = c.now()
	n.BlockedSince = time.Time{}

	c.logger.Debug("transaction started",
		slog.String("execution_id", executionID),
		slog.String("node", nodeID),
		slog.String("worker", workerID),
	)
	return n.Clone(), from, nil
}

// MarkCompleted finishes a node and unblocks its dependents.
//
// Description:
//
//	Requires status GRAY; transitions to BLACK and records the end time.
//	Every blocking successor's in-degree is decremented by one under the
//	same lock, so decrements from multiple completing predecessors are
//	serialized and can never be lost. A dependent reaching in-degree zero
//	becomes WHITE and will surface on the next GetReady; no separate
//	unblock notification exists.
//
// Outputs:
//
//	*graph.TransactionNode - Clone of the completed node.
//	[]*graph.TransactionNode - Clones of every dependent whose in-degree
//	changed, for persistence by the caller.
//	error - ErrNotFound or ErrInvalidTransition.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) MarkCompleted(executionID, nodeID string) (*graph.TransactionNode, []*graph.TransactionNode, error) {
	exec, err := c.lookup(executionID)
	if err != nil {
		return nil, nil, err
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	n, ok := exec.nodes[nodeID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: node %s in execution %s", graph.ErrNotFound, nodeID, executionID)
	}
	if n.Status != graph.StatusGray {
		return nil, nil, fmt.Errorf("%w: cannot complete node %s from status %s",
			graph.ErrInvalidTransition, nodeID, n.Status)
	}

	n.Status = graph.StatusBlack
	n.EndedAt = c.now()

	updated := make([]*graph.TransactionNode, 0, len(exec.forward[nodeID]))
	for _, dep := range exec.forward[nodeID] {
		d, ok := exec.nodes[dep]
		if !ok {
			continue
		}
		d.InDegree--
		if d.InDegree == 0 && d.Status == graph.StatusBlocked {
			d.Status = graph.StatusWhite
			d.BlockedSince = time.Time{}
		}
		updated = append(updated, d.Clone())
	}

	c.logger.Debug("transaction completed",
		slog.String("execution_id", executionID),
		slog.String("node", nodeID),
		slog.Int("dependents_updated", len(updated)),
	)
	return n.Clone(), updated, nil
}

// MarkError records a node failure.
//
// Description:
//
//	Requires status GRAY; transitions to ERROR and records the end time
//	and reason. Dependents are deliberately left BLOCKED: they are never
//	auto-released or auto-failed, and surface as stuck via Status.
//
// Outputs:
//
//	*graph.TransactionNode - Clone of the failed node.
//	error - ErrNotFound or ErrInvalidTransition.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) MarkError(executionID, nodeID, reason string) (*graph.TransactionNode, error) {
	exec, err := c.lookup(executionID)
	if err != nil {
		return nil, err
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	n, ok := exec.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s in execution %s", graph.ErrNotFound, nodeID, executionID)
	}
	if n.Status != graph.StatusGray {
		return nil, fmt.Errorf("%w: cannot fail node %s from status %s",
			graph.ErrInvalidTransition, nodeID, n.Status)
	}

	n.Status = graph.StatusError
	n.EndedAt = c.now()
	n.FailureReason = reason

	c.logger.Error("transaction failed",
		slog.String("execution_id", executionID),
		slog.String("node", nodeID),
		slog.String("reason", reason),
	)
	return n.Clone(), nil
}

// Status aggregates the execution's current node statuses.
//
// Description:
//
//	Pure read over a consistent snapshot. Stuck lists blocked nodes with
//	an errored predecessor, direct or transitive. Overdue lists blocked
//	nodes that have waited longer than the tightest max-wait among their
//	incoming blocking edges; this is a monitoring signal only.
//
// Outputs:
//
//	*graph.Summary - The aggregate. Never nil on success.
//	error - ErrNotFound for an unknown execution.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) Status(executionID string) (*graph.Summary, error) {
	exec, err := c.lookup(executionID)
	if err != nil {
		return nil, err
	}

	exec.mu.RLock()
	defer exec.mu.RUnlock()

	s := &graph.Summary{ExecutionID: executionID, Total: len(exec.nodes)}

	var errored []string
	for id, n := range exec.nodes {
		switch n.Status {
		case graph.StatusBlack:
			s.Completed++
		case graph.StatusGray:
			s.InProgress++
		case graph.StatusWhite:
			s.Ready++
		case graph.StatusBlocked:
			s.Blocked++
		case graph.StatusError:
			s.Errored++
			errored = append(errored, id)
		}
	}

	s.Stuck = exec.stuckFrom(errored)
	s.Overdue = exec.overdue(c.now())

	if s.Total > 0 {
		s.CompletionPct = float64(s.Completed) / float64(s.Total) * 100
	} else {
		s.CompletionPct = 100
	}
	return s, nil
}

// stuckFrom returns the non-terminal descendants of the errored nodes,
// sorted. Caller holds at least a read lock.
func (e *execution) stuckFrom(errored []string) []string {
	if len(errored) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	stack := append([]string{}, errored...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range e.forward[cur] {
			if seen[succ] {
				continue
			}
			seen[succ] = true
			stack = append(stack, succ)
		}
	}

	stuck := make([]string, 0, len(seen))
	for id := range seen {
		if n, ok := e.nodes[id]; ok && !n.Status.IsTerminal() {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	return stuck
}

// overdue returns blocked nodes past their tightest incoming max-wait,
// sorted. Caller holds at least a read lock.
func (e *execution) overdue(now time.Time) []string {
	var out []string
	for id, n := range e.nodes {
		if n.Status != graph.StatusBlocked || n.BlockedSince.IsZero() {
			continue
		}
		wait, ok := e.maxWait[id]
		if !ok || wait <= 0 {
			continue
		}
		if now.Sub(n.BlockedSince) > wait {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clear removes all live state for an execution.
//
// Description:
//
//	Drops the node and edge bookkeeping for the execution. Persisted
//	state is deleted separately by the caller; authorization for this
//	operation is an external concern.
//
// Outputs:
//
//	int - Number of nodes removed.
//	error - ErrNotFound for an unknown execution.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) Clear(executionID string) (int, error) {
	c.mu.Lock()
	exec, ok := c.executions[executionID]
	if ok {
		delete(c.executions, executionID)
	}
	c.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: execution %s", graph.ErrNotFound, executionID)
	}

	exec.mu.RLock()
	count := len(exec.nodes)
	exec.mu.RUnlock()

	c.logger.Info("execution graph cleared",
		slog.String("execution_id", executionID),
		slog.Int("nodes", count),
	)
	return count, nil
}
