// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
	"github.com/MeridianClear/MeridianBatch/services/scheduler/telemetry"
)

// Service is the orchestration facade over the graph algorithms, the live
// coordinator, and the persistence collaborator.
//
// Description:
//
//	Service runs the synchronous single-writer build phase (adjacency,
//	cycle check, level schedule, snapshot persistence) and then exposes
//	the worker-facing operations, persisting every node transition.
//	Build errors are all-or-nothing: a failed build persists nothing and
//	registers nothing.
//
// Thread Safety:
//
//	Safe for concurrent use. Builds of different executions may run
//	concurrently; workers on the same execution serialize per node
//	through the coordinator.
type Service struct {
	repo    Repository
	coord   *Coordinator
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewService creates the scheduler service.
//
// Inputs:
//
//	repo - The persistence collaborator. Must not be nil.
//	metrics - Observability sink. May be nil (metrics disabled).
//	logger - Logger for build and transition logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Service - The configured service.
//	error - Non-nil if repo is nil.
func NewService(repo Repository, metrics *telemetry.Metrics, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: repository must not be nil", graph.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		coord:   New(logger),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Coordinator exposes the live coordinator, mainly for tests and for
// callers that only need read access.
func (s *Service) Coordinator() *Coordinator {
	return s.coord
}

// BuildExecutionGraph validates and materializes the dependency graph for
// one execution.
//
// Description:
//
//	Loads the active edge definitions for the transaction set, builds the
//	blocking adjacency, certifies acyclicity, computes the level schedule,
//	persists the snapshot, and registers the live graph. Only after this
//	returns may workers poll GetReadyTransactions.
//
//	Failure kinds are distinct: a *graph.CycleError carries the offending
//	path so operators can correct the dependency configuration; a
//	*graph.PersistenceError carries the storage cause. They are never
//	merged. ErrInternalConsistency means the sort and the detector
//	disagreed, which is a defect and logged loudly.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	executionID - Identity of the execution; must not be empty.
//	transactionIDs - The work item set for this execution.
//	correlationID - Audit token; generated when empty.
//	businessDate - Business date tag stamped on every node.
//
// Outputs:
//
//	*graph.BuildResult - Order, levels, and persisted edges on success.
//	error - *graph.CycleError, *graph.PersistenceError, or
//	ErrInternalConsistency.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) BuildExecutionGraph(ctx context.Context, executionID string, transactionIDs []string, correlationID, businessDate string) (*graph.BuildResult, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if executionID == "" {
		return nil, fmt.Errorf("%w: executionID must not be empty", graph.ErrInvalidInput)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	// IDs are unique within an execution; collapse duplicates up front so
	// one node cannot be scheduled or persisted twice.
	seen := make(map[string]bool, len(transactionIDs))
	ids := make([]string, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		if seen[id] {
			s.logger.Warn("duplicate transaction ID in execution set, keeping one node",
				slog.String("execution_id", executionID),
				slog.String("transaction_id", id),
			)
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	transactionIDs = ids

	ctx, span := startBuildSpan(ctx, executionID, correlationID, len(transactionIDs))
	defer span.End()

	start := time.Now()

	s.logger.Info("graph build started",
		slog.String("execution_id", executionID),
		slog.String("correlation_id", correlationID),
		slog.Int("transactions", len(transactionIDs)),
	)

	edges, err := s.repo.LoadActiveEdges(ctx, transactionIDs)
	if err != nil {
		perr := &graph.PersistenceError{Op: "load active edges", Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordBuildOutcome(ctx, s.metrics, "persistence_error")
		return nil, perr
	}

	adj := graph.BuildAdjacency(transactionIDs, edges, s.logger)

	cycleStart := time.Now()
	cycle := graph.DetectCycle(adj.Forward)
	if s.metrics != nil {
		s.metrics.CycleChecksTotal.Add(ctx, 1)
		s.metrics.CycleCheckDuration.Record(ctx, time.Since(cycleStart).Seconds())
	}
	if cycle.HasCycle {
		cerr := graph.NewCycleError(cycle.Cycle)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "cycle detected")
		recordBuildOutcome(ctx, s.metrics, "cycle")
		s.logger.Warn("graph build aborted, dependency cycle",
			slog.String("execution_id", executionID),
			slog.Any("cycle", cycle.Cycle),
		)
		return nil, cerr
	}

	levels, err := graph.ScheduleLevels(adj, transactionIDs)
	if s.metrics != nil {
		s.metrics.TopoSortsTotal.Add(ctx, 1)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordBuildOutcome(ctx, s.metrics, "internal_error")
		s.logger.Error("graph build failed internal consistency check",
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	levelOf := make(map[string]int, len(transactionIDs))
	for i, level := range levels.Levels {
		for _, id := range level {
			levelOf[id] = i
		}
	}

	nodes := make([]*graph.TransactionNode, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		n := &graph.TransactionNode{
			ID:            id,
			ExecutionID:   executionID,
			InDegree:      len(adj.Reverse[id]),
			OutDegree:     len(adj.Forward[id]),
			OrderIndex:    levels.Order[id],
			Level:         levelOf[id],
			CorrelationID: correlationID,
			BusinessDate:  businessDate,
		}
		if n.InDegree == 0 {
			n.Status = graph.StatusWhite
		} else {
			n.Status = graph.StatusBlocked
			n.BlockedSince = time.Now()
		}
		nodes = append(nodes, n)
	}

	kept := graph.FilterBlocking(transactionIDs, edges)

	persistStart := time.Now()
	if err := s.repo.SaveGraphSnapshot(ctx, executionID, nodes, kept); err != nil {
		perr := &graph.PersistenceError{Op: "save graph snapshot", Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		recordBuildOutcome(ctx, s.metrics, "persistence_error")
		return nil, perr
	}
	if s.metrics != nil {
		s.metrics.GraphPersistDuration.Record(ctx, time.Since(persistStart).Seconds())
	}

	if err := s.coord.Register(executionID, nodes, adj, kept); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordBuildOutcome(ctx, s.metrics, "internal_error")
		return nil, err
	}

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.GraphBuildDuration.Record(ctx, duration.Seconds())
	}
	recordBuildOutcome(ctx, s.metrics, "success")
	span.SetStatus(codes.Ok, "")

	s.logger.Info("graph build completed",
		slog.String("execution_id", executionID),
		slog.Int("levels", len(levels.Levels)),
		slog.Int("edges", len(kept)),
		slog.Duration("duration", duration),
	)

	return &graph.BuildResult{
		ExecutionID:   executionID,
		CorrelationID: correlationID,
		Order:         levels.Order,
		Levels:        levels.Levels,
		Edges:         kept,
	}, nil
}

// RestoreExecution re-registers a persisted execution graph after a restart.
//
// Description:
//
//	Loads the snapshot from the repository and installs it in the
//	coordinator. Nodes that were GRAY when the process died lost their
//	worker; they are reset to WHITE (in-degree zero) or BLOCKED so they
//	can be claimed again, and the reset is logged.
//
// Outputs:
//
//	error - *graph.PersistenceError if the snapshot cannot be read,
//	ErrNotFound if no snapshot exists.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) RestoreExecution(ctx context.Context, executionID string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}

	nodes, edges, err := s.repo.LoadGraph(ctx, executionID)
	if err != nil {
		return &graph.PersistenceError{Op: "load graph snapshot", Err: err}
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no snapshot for execution %s", graph.ErrNotFound, executionID)
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
		if n.Status == graph.StatusGray {
			if n.InDegree == 0 {
				n.Status = graph.StatusWhite
			} else {
				n.Status = graph.StatusBlocked
			}
			n.WorkerID = ""
			s.logger.Warn("orphaned in-progress transaction reset for re-claim",
				slog.String("execution_id", executionID),
				slog.String("node", n.ID),
			)
		}
	}

	adj := graph.BuildAdjacency(ids, edges, s.logger)
	return s.coord.Register(executionID, nodes, adj, edges)
}

// GetReadyTransactions returns a snapshot of claimable nodes.
func (s *Service) GetReadyTransactions(ctx context.Context, executionID string) ([]*graph.TransactionNode, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	return s.coord.GetReady(executionID)
}

// MarkTransactionStarted claims a node for a worker and persists the
// transition.
//
// Outputs:
//
//	error - ErrNotFound, ErrInvalidTransition (including lost claim
//	races), or *graph.PersistenceError.
func (s *Service) MarkTransactionStarted(ctx context.Context, executionID, nodeID, workerID string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}

	n, from, err := s.coord.MarkStarted(executionID, nodeID, workerID)
	if err != nil {
		return err
	}

	recordTransition(ctx, s.metrics, string(from), string(graph.StatusGray))
	if s.metrics != nil {
		s.metrics.ActiveTransactions.Add(ctx, 1)
	}

	return s.saveNode(ctx, "mark started", n)
}

// MarkTransactionCompleted completes a node, cascades the in-degree
// decrements, and persists every changed node.
func (s *Service) MarkTransactionCompleted(ctx context.Context, executionID, nodeID string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}

	n, updated, err := s.coord.MarkCompleted(executionID, nodeID)
	if err != nil {
		return err
	}

	recordTransition(ctx, s.metrics, string(graph.StatusGray), string(graph.StatusBlack))
	if s.metrics != nil {
		s.metrics.ActiveTransactions.Add(ctx, -1)
		s.metrics.ResolutionsTotal.Add(ctx, 1)
	}

	if err := s.saveNode(ctx, "mark completed", n); err != nil {
		return err
	}
	for _, d := range updated {
		if err := s.saveNode(ctx, "cascade in-degree", d); err != nil {
			return err
		}
	}
	return nil
}

// MarkTransactionError records a node failure and persists it. Dependents
// stay BLOCKED and surface via GetExecutionStatus as stuck.
func (s *Service) MarkTransactionError(ctx context.Context, executionID, nodeID, reason string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}

	n, err := s.coord.MarkError(executionID, nodeID, reason)
	if err != nil {
		return err
	}

	recordTransition(ctx, s.metrics, string(graph.StatusGray), string(graph.StatusError))
	if s.metrics != nil {
		s.metrics.ActiveTransactions.Add(ctx, -1)
	}

	return s.saveNode(ctx, "mark error", n)
}

// GetExecutionStatus returns the live summary for an execution.
func (s *Service) GetExecutionStatus(ctx context.Context, executionID string) (*graph.Summary, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	return s.coord.Status(executionID)
}

// GetTransaction reads a node's persisted state from the repository.
func (s *Service) GetTransaction(ctx context.Context, executionID, nodeID string) (*graph.TransactionNode, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	n, err := s.repo.LoadNode(ctx, executionID, nodeID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ClearExecutionGraph removes all live and persisted state for an
// execution. Authorization for this operation is applied by the caller.
//
// Outputs:
//
//	int - Number of persisted records deleted.
//	error - ErrNotFound if the execution is unknown to both the
//	coordinator and the repository, or *graph.PersistenceError.
func (s *Service) ClearExecutionGraph(ctx context.Context, executionID string) (int, error) {
	if ctx == nil {
		return 0, graph.ErrNilContext
	}

	_, coordErr := s.coord.Clear(executionID)

	deleted, err := s.repo.DeleteGraph(ctx, executionID)
	if err != nil {
		return 0, &graph.PersistenceError{Op: "delete graph", Err: err}
	}
	if deleted == 0 && coordErr != nil {
		return 0, coordErr
	}
	return deleted, nil
}

// saveNode persists one node, wrapping failures as PersistenceError. The
// in-memory transition has already happened; a persistence failure here is
// surfaced distinctly so the orchestration layer can reconcile.
func (s *Service) saveNode(ctx context.Context, op string, n *graph.TransactionNode) error {
	if err := s.repo.SaveNode(ctx, n); err != nil {
		perr := &graph.PersistenceError{Op: op, Err: err}
		s.logger.Error("node transition not durably recorded",
			slog.String("execution_id", n.ExecutionID),
			slog.String("node", n.ID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return perr
	}
	return nil
}
