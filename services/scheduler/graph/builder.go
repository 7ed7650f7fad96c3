// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph implements the transaction dependency graph core: adjacency
// construction, three-color cycle detection, and Kahn level scheduling.
//
// All three algorithms are pure, stateless, single-pass functions. They
// hold no shared state across calls; live per-execution state is owned by
// the coordinator package.
package graph

import (
	"log/slog"
	"sort"
)

// BuildAdjacency turns a flat list of dependency edges plus a target node
// set into forward and reverse adjacency structures.
//
// Description:
//
//	Filters the edge list down to active blocking edges whose endpoints
//	both belong to the transaction set. Inactive edges, PARALLEL_SAFE
//	edges, and edges referencing unknown nodes are dropped; unknown
//	references are logged as data-quality warnings, never treated as
//	fatal. Duplicate active edges for the same ordered pair are collapsed
//	to the first occurrence.
//
//	Both output maps carry an entry (possibly empty) for every node in
//	the input set, so callers never see a missing key. Successor and
//	predecessor lists are sorted lexicographically for deterministic
//	iteration downstream.
//
//	Self-edges are kept: they violate the edge invariant, and keeping
//	them lets the cycle detector report them as the minimal cycle rather
//	than silently dropping the defect.
//
//	Transaction IDs are unique within an execution. A duplicate ID in the
//	input list is collapsed to one node and logged as a data-quality
//	warning, the same posture as unknown edge endpoints.
//
// Inputs:
//
//	transactionIDs - The full candidate node set.
//	edges - Candidate dependency edges, filtered as described above.
//	logger - Logger for data-quality warnings. If nil, uses slog.Default().
//
// Outputs:
//
//	Adjacency - Forward and reverse adjacency, complete over the node set.
//
// Thread Safety: Pure function; safe for concurrent use.
func BuildAdjacency(transactionIDs []string, edges []DependencyEdge, logger *slog.Logger) Adjacency {
	if logger == nil {
		logger = slog.Default()
	}

	known := make(map[string]bool, len(transactionIDs))
	for _, id := range transactionIDs {
		if known[id] {
			logger.Warn("duplicate transaction ID in execution set, keeping one node",
				slog.String("transaction_id", id),
			)
			continue
		}
		known[id] = true
	}

	adj := Adjacency{
		Forward: make(map[string][]string, len(transactionIDs)),
		Reverse: make(map[string][]string, len(transactionIDs)),
	}
	for id := range known {
		adj.Forward[id] = []string{}
		adj.Reverse[id] = []string{}
	}

	type pair struct{ src, dst string }
	seen := make(map[pair]bool, len(edges))

	for i := range edges {
		e := &edges[i]
		if !e.Active || !e.Blocking() {
			continue
		}
		if !known[e.Source] || !known[e.Target] {
			logger.Warn("dependency edge references unknown transaction, dropping",
				slog.String("source", e.Source),
				slog.String("target", e.Target),
				slog.String("type", string(e.Type)),
			)
			continue
		}
		p := pair{e.Source, e.Target}
		if seen[p] {
			logger.Warn("duplicate active dependency edge, keeping first",
				slog.String("source", e.Source),
				slog.String("target", e.Target),
			)
			continue
		}
		seen[p] = true

		adj.Forward[e.Source] = append(adj.Forward[e.Source], e.Target)
		adj.Reverse[e.Target] = append(adj.Reverse[e.Target], e.Source)
	}

	for id := range adj.Forward {
		sort.Strings(adj.Forward[id])
	}
	for id := range adj.Reverse {
		sort.Strings(adj.Reverse[id])
	}

	return adj
}

// FilterBlocking returns the subset of edges that are active, blocking,
// and internal to the transaction set. This is the edge set persisted with
// a graph snapshot.
func FilterBlocking(transactionIDs []string, edges []DependencyEdge) []DependencyEdge {
	known := make(map[string]bool, len(transactionIDs))
	for _, id := range transactionIDs {
		known[id] = true
	}

	type pair struct{ src, dst string }
	seen := make(map[pair]bool, len(edges))

	kept := make([]DependencyEdge, 0, len(edges))
	for _, e := range edges {
		if !e.Active || !e.Blocking() || !known[e.Source] || !known[e.Target] {
			continue
		}
		p := pair{e.Source, e.Target}
		if seen[p] {
			continue
		}
		seen[p] = true
		kept = append(kept, e)
	}
	return kept
}

// dedupe returns the IDs with duplicates collapsed to their first
// occurrence, preserving input order.
func dedupe(transactionIDs []string) []string {
	seen := make(map[string]bool, len(transactionIDs))
	out := make([]string, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
