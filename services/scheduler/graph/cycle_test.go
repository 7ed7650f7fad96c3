// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"reflect"
	"testing"
)

// sameRotation reports whether got is the closed cycle want up to rotation.
// Both paths must close on themselves (first element repeated last).
func sameRotation(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	if len(got) < 2 || got[0] != got[len(got)-1] {
		return false
	}
	g := got[:len(got)-1]
	w := want[:len(want)-1]
	for shift := range w {
		match := true
		for i := range g {
			if g[i] != w[(i+shift)%len(w)] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestDetectCycle_AcyclicGraph(t *testing.T) {
	forward := map[string][]string{
		"A": {"B", "C"},
		"B": {"D"},
		"C": {"D"},
		"D": {},
	}

	res := DetectCycle(forward)
	if res.HasCycle {
		t.Fatalf("acyclic graph reported cycle %v", res.Cycle)
	}
}

func TestDetectCycle_Triangle(t *testing.T) {
	forward := map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"},
	}

	res := DetectCycle(forward)
	if !res.HasCycle {
		t.Fatal("expected cycle")
	}
	if !sameRotation(res.Cycle, []string{"A", "B", "C", "A"}) {
		t.Errorf("cycle = %v, want [A B C A] up to rotation", res.Cycle)
	}
}

func TestDetectCycle_SelfLoop(t *testing.T) {
	forward := map[string][]string{
		"A": {"A"},
		"B": {},
	}

	res := DetectCycle(forward)
	if !res.HasCycle {
		t.Fatal("expected self-loop to be detected")
	}
	if !reflect.DeepEqual(res.Cycle, []string{"A", "A"}) {
		t.Errorf("cycle = %v, want [A A]", res.Cycle)
	}
}

func TestDetectCycle_ClosedPath(t *testing.T) {
	forward := map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"B"},
	}

	res := DetectCycle(forward)
	if !res.HasCycle {
		t.Fatal("expected cycle")
	}
	c := res.Cycle
	if c[0] != c[len(c)-1] {
		t.Errorf("cycle %v does not close on itself", c)
	}
	// The suffix rule means A (outside the cycle) must not appear.
	for _, id := range c {
		if id == "A" {
			t.Errorf("cycle %v includes node outside the cycle", c)
		}
	}
}

func TestDetectCycle_Deterministic(t *testing.T) {
	// Two disjoint cycles; lexicographic start order must always report
	// the same one first.
	forward := map[string][]string{
		"M": {"N"},
		"N": {"M"},
		"X": {"Y"},
		"Y": {"X"},
	}

	first := DetectCycle(forward)
	if !first.HasCycle {
		t.Fatal("expected cycle")
	}
	for i := 0; i < 10; i++ {
		again := DetectCycle(forward)
		if !reflect.DeepEqual(again.Cycle, first.Cycle) {
			t.Fatalf("run %d reported %v, first run reported %v", i, again.Cycle, first.Cycle)
		}
	}
	if !sameRotation(first.Cycle, []string{"M", "N", "M"}) {
		t.Errorf("cycle = %v, want the lexicographically first cycle [M N M]", first.Cycle)
	}
}

func TestDetectCycle_EmptyGraph(t *testing.T) {
	res := DetectCycle(map[string][]string{})
	if res.HasCycle {
		t.Fatal("empty graph reported cycle")
	}
}

func TestDetectCycle_BuilderRoundTrip(t *testing.T) {
	ids := []string{"A", "B", "C"}
	edges := []DependencyEdge{
		edge("A", "B", EdgeSequential),
		edge("B", "C", EdgeSequential),
		edge("C", "A", EdgeDataConsistency),
	}

	adj := BuildAdjacency(ids, edges, nil)
	res := DetectCycle(adj.Forward)
	if !res.HasCycle {
		t.Fatal("expected cycle through mixed blocking edge types")
	}
	if !sameRotation(res.Cycle, []string{"A", "B", "C", "A"}) {
		t.Errorf("cycle = %v, want [A B C A] up to rotation", res.Cycle)
	}
}
