// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"fmt"
	"sort"
)

// ScheduleLevels produces a topological order and a partition into
// parallel-safe execution levels.
//
// Description:
//
//	Runs Kahn's algorithm in waves. In-degrees are computed from the
//	reverse adjacency; the first wave is every zero-in-degree node. Each
//	wave is processed as a unit: every processed node decrements its
//	blocking successors' in-degrees, and successors reaching zero join
//	the *next* wave, never the current one, so a node can never share a
//	level with anything it depends on.
//
//	Within a wave, nodes are ordered lexicographically by ID and the
//	topological order index is assigned in dequeue order. Edge priority
//	weight is deliberately not consulted (legacy tie-break preserved).
//
//	Transaction IDs are unique within an execution; a duplicate in the
//	input list is collapsed to its first occurrence so it cannot seed a
//	wave twice or skew the order indexes.
//
//	Callable only once the caller has confirmed acyclicity. If the waves
//	cannot account for every node, a cycle evaded the separate detector:
//	that is a defect, and the function returns ErrInternalConsistency
//	rather than a partial schedule.
//
// Inputs:
//
//	adj - Forward and reverse adjacency, as produced by BuildAdjacency.
//	transactionIDs - The node set; must match the adjacency key set.
//
// Outputs:
//
//	LevelResult - Levels and zero-based order index per node.
//	error - ErrInternalConsistency if nodes remain unaccounted for.
//
// Thread Safety: Pure function; safe for concurrent use.
func ScheduleLevels(adj Adjacency, transactionIDs []string) (LevelResult, error) {
	ids := dedupe(transactionIDs)

	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(adj.Reverse[id])
	}

	wave := make([]string, 0)
	for _, id := range ids {
		if inDegree[id] == 0 {
			wave = append(wave, id)
		}
	}
	sort.Strings(wave)

	result := LevelResult{
		Levels: make([][]string, 0),
		Order:  make(map[string]int, len(ids)),
	}

	rank := 0
	for len(wave) > 0 {
		level := make([]string, len(wave))
		copy(level, wave)
		result.Levels = append(result.Levels, level)

		next := make([]string, 0)
		for _, id := range wave {
			result.Order[id] = rank
			rank++

			for _, succ := range adj.Forward[id] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}

		sort.Strings(next)
		wave = next
	}

	if rank != len(ids) {
		return LevelResult{}, fmt.Errorf(
			"%w: topological sort accounted for %d of %d nodes after cycle check passed",
			ErrInternalConsistency, rank, len(ids))
	}

	return result, nil
}
