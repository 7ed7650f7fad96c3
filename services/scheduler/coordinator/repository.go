// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordinator

import (
	"context"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

// Repository is the durable store for dependency edge definitions and
// per-execution graph snapshots.
//
// The scheduler core treats persistence as a collaborator: build-phase
// writes must be all-or-nothing, and every node transition is recorded
// through SaveNode. Implementations must be safe for concurrent use.
type Repository interface {
	// LoadActiveEdges returns the active dependency edge definitions
	// touching the given transaction set.
	LoadActiveEdges(ctx context.Context, transactionIDs []string) ([]graph.DependencyEdge, error)

	// SaveGraphSnapshot atomically persists the nodes and blocking edges
	// materialized for one execution. Either everything is written or
	// nothing is.
	SaveGraphSnapshot(ctx context.Context, executionID string, nodes []*graph.TransactionNode, edges []graph.DependencyEdge) error

	// LoadGraph reads a previously persisted execution snapshot.
	LoadGraph(ctx context.Context, executionID string) ([]*graph.TransactionNode, []graph.DependencyEdge, error)

	// LoadNode reads a single persisted node.
	LoadNode(ctx context.Context, executionID, nodeID string) (*graph.TransactionNode, error)

	// SaveNode persists a node's current state. Called on every
	// coordinator transition.
	SaveNode(ctx context.Context, node *graph.TransactionNode) error

	// DeleteGraph removes all persisted state for an execution and
	// returns the number of records deleted.
	DeleteGraph(ctx context.Context, executionID string) (int, error)
}
