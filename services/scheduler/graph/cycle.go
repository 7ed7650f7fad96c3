// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "sort"

// color is the local DFS marking; it is unrelated to the node's persisted
// NodeStatus even though the names coincide.
type color uint8

const (
	colorWhite color = iota // unvisited
	colorGray               // on the current DFS path
	colorBlack              // finished
)

// DetectCycle certifies the forward adjacency is acyclic, or extracts the
// first offending cycle.
//
// Description:
//
//	Runs a three-color depth-first search. A transition into a GRAY node
//	is a back-edge; the reported path is the suffix of the current DFS
//	path starting at the back-edge's target, with the target appended as
//	the closing element, so Cycle[0] == Cycle[len-1]. A self-edge is
//	reported as the minimal two-element cycle [A, A].
//
//	Unvisited start nodes are iterated in lexicographic ID order, so
//	repeated runs against the same graph report the same first-found
//	cycle. Only the first cycle is returned; exhaustive enumeration is
//	out of scope.
//
// Inputs:
//
//	forward - Forward adjacency (node -> successors). Must contain an
//	entry for every node, as produced by BuildAdjacency.
//
// Outputs:
//
//	CycleResult - HasCycle=false for a DAG; otherwise the closed path.
//
// Thread Safety: Pure function; safe for concurrent use.
func DetectCycle(forward map[string][]string) CycleResult {
	nodes := make([]string, 0, len(forward))
	for id := range forward {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	colors := make(map[string]color, len(nodes))
	path := make([]string, 0, len(nodes))

	var found []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = colorGray
		path = append(path, id)

		for _, succ := range forward[id] {
			switch colors[succ] {
			case colorGray:
				// Back-edge: the cycle is the path suffix from succ.
				start := 0
				for i, n := range path {
					if n == succ {
						start = i
						break
					}
				}
				found = append(append([]string{}, path[start:]...), succ)
				return true
			case colorWhite:
				if visit(succ) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		colors[id] = colorBlack
		return false
	}

	for _, id := range nodes {
		if colors[id] == colorWhite {
			if visit(id) {
				return CycleResult{HasCycle: true, Cycle: found}
			}
		}
	}

	return CycleResult{}
}
