// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordinator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

func testEdge(src, dst string) graph.DependencyEdge {
	return graph.DependencyEdge{
		Source:   src,
		Target:   dst,
		Type:     graph.EdgeSequential,
		Priority: 50,
		Active:   true,
	}
}

// registerGraph builds the adjacency for the given edges and registers a
// fresh execution with derived statuses.
func registerGraph(t *testing.T, c *Coordinator, executionID string, ids []string, edges []graph.DependencyEdge) {
	t.Helper()

	adj := graph.BuildAdjacency(ids, edges, nil)
	nodes := make([]*graph.TransactionNode, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, &graph.TransactionNode{
			ID:        id,
			InDegree:  len(adj.Reverse[id]),
			OutDegree: len(adj.Forward[id]),
		})
	}
	if err := c.Register(executionID, nodes, adj, edges); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestGetReady_InitialRoots(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B", "C"}, []graph.DependencyEdge{
		testEdge("A", "B"),
		testEdge("A", "C"),
	})

	ready, err := c.GetReady("exec-1")
	if err != nil {
		t.Fatalf("GetReady: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("ready = %v, want [A]", ready)
	}
	if ready[0].Status != graph.StatusWhite {
		t.Errorf("status = %s, want WHITE", ready[0].Status)
	}
}

func TestGetReady_UnknownExecution(t *testing.T) {
	c := New(nil)
	_, err := c.GetReady("nope")
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMarkStarted_ClaimsNode(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B"}, []graph.DependencyEdge{testEdge("A", "B")})

	n, _, err := c.MarkStarted("exec-1", "A", "worker-7")
	if err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if n.Status != graph.StatusGray {
		t.Errorf("status = %s, want GRAY", n.Status)
	}
	if n.WorkerID != "worker-7" {
		t.Errorf("worker = %s, want worker-7", n.WorkerID)
	}
	if n.StartedAt.IsZero() {
		t.Error("start time not recorded")
	}

	// The claimed node no longer shows as ready.
	ready, _ := c.GetReady("exec-1")
	if len(ready) != 0 {
		t.Errorf("ready = %v, want empty", ready)
	}
}

func TestMarkStarted_RejectsBlockedNode(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B"}, []graph.DependencyEdge{testEdge("A", "B")})

	_, _, err := c.MarkStarted("exec-1", "B", "worker-1")
	if !errors.Is(err, graph.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for blocked node, got: %v", err)
	}
}

func TestMarkStarted_UnknownNode(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A"}, nil)

	_, _, err := c.MarkStarted("exec-1", "Z", "worker-1")
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMarkStarted_AtMostOnceDispatch(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A"}, nil)

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, rejections int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.MarkStarted("exec-1", "A", "racer")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, graph.ErrInvalidTransition):
				rejections++
			default:
				t.Errorf("unexpected error kind: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if rejections != workers-1 {
		t.Errorf("rejections = %d, want %d", rejections, workers-1)
	}
}

func TestMarkCompleted_CascadeCorrectness(t *testing.T) {
	// Diamond: S -> {L, R} -> E.
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"S", "L", "R", "E"}, []graph.DependencyEdge{
		testEdge("S", "L"),
		testEdge("S", "R"),
		testEdge("L", "E"),
		testEdge("R", "E"),
	})

	if _, _, err := c.MarkStarted("exec-1", "S", "w1"); err != nil {
		t.Fatalf("start S: %v", err)
	}
	done, updated, err := c.MarkCompleted("exec-1", "S")
	if err != nil {
		t.Fatalf("complete S: %v", err)
	}
	if done.Status != graph.StatusBlack {
		t.Errorf("S status = %s, want BLACK", done.Status)
	}
	if done.EndedAt.IsZero() {
		t.Error("end time not recorded")
	}

	// Exactly the direct successors changed, by exactly one each.
	if len(updated) != 2 {
		t.Fatalf("updated %d nodes, want 2: %v", len(updated), updated)
	}
	for _, d := range updated {
		if d.ID != "L" && d.ID != "R" {
			t.Errorf("unexpected dependent %s updated", d.ID)
		}
		if d.InDegree != 0 {
			t.Errorf("%s in-degree = %d, want 0", d.ID, d.InDegree)
		}
		if d.Status != graph.StatusWhite {
			t.Errorf("%s status = %s, want WHITE", d.ID, d.Status)
		}
	}

	// E depends on both L and R; it must not have moved.
	s, _ := c.Status("exec-1")
	if s.Blocked != 1 {
		t.Errorf("blocked = %d, want 1 (E)", s.Blocked)
	}

	ready, _ := c.GetReady("exec-1")
	if len(ready) != 2 {
		t.Errorf("ready = %v, want L and R", ready)
	}
}

func TestMarkCompleted_PartialPredecessorsKeepBlocking(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B", "E"}, []graph.DependencyEdge{
		testEdge("A", "E"),
		testEdge("B", "E"),
	})

	for _, id := range []string{"A", "B"} {
		if _, _, err := c.MarkStarted("exec-1", id, "w"); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	if _, _, err := c.MarkCompleted("exec-1", "A"); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	ready, _ := c.GetReady("exec-1")
	if len(ready) != 0 {
		t.Fatalf("E surfaced with an unfinished predecessor: %v", ready)
	}

	if _, _, err := c.MarkCompleted("exec-1", "B"); err != nil {
		t.Fatalf("complete B: %v", err)
	}
	ready, _ = c.GetReady("exec-1")
	if len(ready) != 1 || ready[0].ID != "E" {
		t.Fatalf("ready = %v, want [E]", ready)
	}
}

func TestMarkCompleted_ConcurrentPredecessors(t *testing.T) {
	// Many predecessors completing concurrently must not lose decrements.
	ids := []string{"E"}
	edges := make([]graph.DependencyEdge, 0, 16)
	for _, p := range []string{"P01", "P02", "P03", "P04", "P05", "P06", "P07", "P08"} {
		ids = append(ids, p)
		edges = append(edges, testEdge(p, "E"))
	}

	c := New(nil)
	registerGraph(t, c, "exec-1", ids, edges)

	var wg sync.WaitGroup
	for _, p := range ids[1:] {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, _, err := c.MarkStarted("exec-1", id, "w"); err != nil {
				t.Errorf("start %s: %v", id, err)
				return
			}
			if _, _, err := c.MarkCompleted("exec-1", id); err != nil {
				t.Errorf("complete %s: %v", id, err)
			}
		}(p)
	}
	wg.Wait()

	ready, err := c.GetReady("exec-1")
	if err != nil {
		t.Fatalf("GetReady: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "E" {
		t.Fatalf("ready = %v, want [E] after all predecessors completed", ready)
	}
	if ready[0].InDegree != 0 {
		t.Errorf("E in-degree = %d, want 0", ready[0].InDegree)
	}
}

func TestMarkCompleted_InvalidFromWhite(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A"}, nil)

	_, _, err := c.MarkCompleted("exec-1", "A")
	if !errors.Is(err, graph.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing a WHITE node, got: %v", err)
	}
}

func TestMarkError_DependentsStayBlocked(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B", "C"}, []graph.DependencyEdge{
		testEdge("A", "B"),
		testEdge("B", "C"),
	})

	if _, _, err := c.MarkStarted("exec-1", "A", "w"); err != nil {
		t.Fatalf("start A: %v", err)
	}
	n, err := c.MarkError("exec-1", "A", "ledger feed rejected")
	if err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if n.Status != graph.StatusError {
		t.Errorf("status = %s, want ERROR", n.Status)
	}
	if n.FailureReason != "ledger feed rejected" {
		t.Errorf("reason = %q", n.FailureReason)
	}

	s, err := c.Status("exec-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.Errored != 1 {
		t.Errorf("errored = %d, want 1", s.Errored)
	}
	if s.Blocked != 2 {
		t.Errorf("blocked = %d, want 2", s.Blocked)
	}
	// Both the direct and the transitive dependent are stuck.
	if len(s.Stuck) != 2 || s.Stuck[0] != "B" || s.Stuck[1] != "C" {
		t.Errorf("stuck = %v, want [B C]", s.Stuck)
	}

	ready, _ := c.GetReady("exec-1")
	if len(ready) != 0 {
		t.Errorf("ready = %v, dependents of an errored node must never surface", ready)
	}
}

func TestStatus_Aggregates(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B", "C", "D"}, []graph.DependencyEdge{
		testEdge("A", "C"),
		testEdge("B", "D"),
	})

	if _, _, err := c.MarkStarted("exec-1", "A", "w1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.MarkCompleted("exec-1", "A"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.MarkStarted("exec-1", "B", "w2"); err != nil {
		t.Fatal(err)
	}

	s, err := c.Status("exec-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.Total != 4 || s.Completed != 1 || s.InProgress != 1 || s.Ready != 1 || s.Blocked != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.CompletionPct != 25 {
		t.Errorf("completion = %.1f, want 25.0", s.CompletionPct)
	}
}

func TestStatus_OverdueFlagging(t *testing.T) {
	c := New(nil)

	base := time.Now()
	c.now = func() time.Time { return base }

	e := testEdge("A", "B")
	e.MaxWait = time.Minute
	registerGraph(t, c, "exec-1", []string{"A", "B"}, []graph.DependencyEdge{e})

	s, _ := c.Status("exec-1")
	if len(s.Overdue) != 0 {
		t.Fatalf("overdue = %v before the wait elapsed", s.Overdue)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	s, _ = c.Status("exec-1")
	if len(s.Overdue) != 1 || s.Overdue[0] != "B" {
		t.Errorf("overdue = %v, want [B]", s.Overdue)
	}

	// Flagging only: B's status is untouched.
	if s.Blocked != 1 {
		t.Errorf("blocked = %d, overdue must not transition the node", s.Blocked)
	}
}

func TestClear_RemovesExecution(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B"}, nil)

	count, err := c.Clear("exec-1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if _, err := c.GetReady("exec-1"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got: %v", err)
	}
	if _, err := c.Clear("exec-1"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double clear, got: %v", err)
	}
}

func TestExecutions_Isolated(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B"}, []graph.DependencyEdge{testEdge("A", "B")})
	registerGraph(t, c, "exec-2", []string{"A", "B"}, []graph.DependencyEdge{testEdge("A", "B")})

	if _, _, err := c.MarkStarted("exec-1", "A", "w"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.MarkCompleted("exec-1", "A"); err != nil {
		t.Fatal(err)
	}

	s2, _ := c.Status("exec-2")
	if s2.Completed != 0 || s2.Ready != 1 {
		t.Errorf("exec-2 leaked state from exec-1: %+v", s2)
	}
}

func TestMarkStarted_ReportsPriorStatus(t *testing.T) {
	c := New(nil)
	nodes := []*graph.TransactionNode{
		{ID: "A"},
		// Restore-path shape: BLOCKED with all dependencies already met.
		{ID: "B", Status: graph.StatusBlocked},
	}
	if err := c.Register("exec-1", nodes, graph.Adjacency{}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, from, err := c.MarkStarted("exec-1", "A", "w")
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	if from != graph.StatusWhite {
		t.Errorf("prior status of A = %s, want WHITE", from)
	}

	_, from, err = c.MarkStarted("exec-1", "B", "w")
	if err != nil {
		t.Fatalf("start B: %v", err)
	}
	if from != graph.StatusBlocked {
		t.Errorf("prior status of B = %s, want BLOCKED", from)
	}
}

func TestStatus_OverdueKeepsPersistedBlockedSince(t *testing.T) {
	c := New(nil)

	base := time.Now()
	c.now = func() time.Time { return base }

	// B has been blocked for two hours already; re-registering (the
	// restore path) must not restart its wait clock.
	e := testEdge("A", "B")
	e.MaxWait = time.Minute
	adj := graph.BuildAdjacency([]string{"A", "B"}, []graph.DependencyEdge{e}, nil)
	nodes := []*graph.TransactionNode{
		{ID: "A", Status: graph.StatusWhite, OutDegree: 1},
		{ID: "B", Status: graph.StatusBlocked, InDegree: 1, BlockedSince: base.Add(-2 * time.Hour)},
	}
	if err := c.Register("exec-1", nodes, adj, []graph.DependencyEdge{e}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s, err := c.Status("exec-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(s.Overdue) != 1 || s.Overdue[0] != "B" {
		t.Errorf("overdue = %v, want [B] from the persisted clock", s.Overdue)
	}
}

func TestMarkCompleted_UnblockClearsBlockedSince(t *testing.T) {
	c := New(nil)
	registerGraph(t, c, "exec-1", []string{"A", "B"}, []graph.DependencyEdge{testEdge("A", "B")})

	if _, _, err := c.MarkStarted("exec-1", "A", "w"); err != nil {
		t.Fatal(err)
	}
	_, updated, err := c.MarkCompleted("exec-1", "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated) != 1 || !updated[0].BlockedSince.IsZero() {
		t.Errorf("unblocked B still carries a blocked-since clock: %+v", updated)
	}
}
