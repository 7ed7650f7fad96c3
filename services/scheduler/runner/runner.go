// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner drives an execution graph to completion with a pool of
// workers.
//
// Each worker repeatedly asks the coordinator for ready transactions,
// claims one, runs the caller-supplied execute function, and reports the
// outcome. Claim races between workers are expected and resolved by the
// coordinator's compare-and-swap transition; a losing worker just moves
// on to the next candidate.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/coordinator"
	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

// ExecuteFunc runs one transaction. A non-nil error marks the node
// ERROR and leaves its dependents blocked.
type ExecuteFunc func(ctx context.Context, node *graph.TransactionNode) error

// Options configures a Runner.
type Options struct {
	// Workers is the pool size. Defaults to 4 when zero.
	Workers int

	// PollInterval is how long an idle worker waits before re-checking
	// for ready work. Defaults to 100ms when zero.
	PollInterval time.Duration

	// Logger for worker lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Runner executes one batch at a time against a scheduler service.
type Runner struct {
	svc     *coordinator.Service
	exec    ExecuteFunc
	workers int
	poll    time.Duration
	logger  *slog.Logger
}

// New creates a Runner.
//
// Inputs:
//
//	svc - The scheduler service. Must not be nil.
//	exec - The per-transaction execute function. Must not be nil.
//	opts - Pool options; zero values get defaults.
//
// Outputs:
//
//	*Runner - The runner.
//	error - Non-nil if svc or exec is nil.
func New(svc *coordinator.Service, exec ExecuteFunc, opts Options) (*Runner, error) {
	if svc == nil {
		return nil, errors.New("service must not be nil")
	}
	if exec == nil {
		return nil, errors.New("execute function must not be nil")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		svc:     svc,
		exec:    exec,
		workers: opts.Workers,
		poll:    opts.PollInterval,
		logger:  opts.Logger,
	}, nil
}

// Run drives the execution until every node is terminal or stuck.
//
// Description:
//
//	Starts the worker pool and blocks until the execution is done, the
//	context is cancelled, or a worker hits an infrastructure error.
//	Transaction failures are not run errors: a failed transaction marks
//	its node ERROR and the run continues with whatever is still
//	schedulable.
//
// Outputs:
//
//	*graph.Summary - Final status of the execution.
//	error - Non-nil on context cancellation or persistence failure.
//
// Thread Safety: Run must not be called concurrently for the same
// execution ID.
func (r *Runner) Run(ctx context.Context, executionID string) (*graph.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return r.work(gctx, executionID, workerID)
		})
	}

	runErr := g.Wait()

	summary, err := r.svc.GetExecutionStatus(ctx, executionID)
	if err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return summary, runErr
}

// work is one worker's claim-execute-report loop.
func (r *Runner) work(ctx context.Context, executionID, workerID string) error {
	for {
		summary, err := r.svc.GetExecutionStatus(ctx, executionID)
		if err != nil {
			return fmt.Errorf("worker %s: %w", workerID, err)
		}
		if summary.Done() {
			return nil
		}

		ready, err := r.svc.GetReadyTransactions(ctx, executionID)
		if err != nil {
			return fmt.Errorf("worker %s: %w", workerID, err)
		}

		claimed := false
		for _, node := range ready {
			err := r.svc.MarkTransactionStarted(ctx, executionID, node.ID, workerID)
			if errors.Is(err, graph.ErrInvalidTransition) {
				// Another worker got there first.
				continue
			}
			if err != nil {
				return fmt.Errorf("worker %s claim %s: %w", workerID, node.ID, err)
			}

			claimed = true
			if err := r.runOne(ctx, executionID, node.ID, workerID); err != nil {
				return err
			}
			break
		}

		if !claimed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.poll):
			}
		}
	}
}

// runOne executes a claimed transaction and reports its outcome.
func (r *Runner) runOne(ctx context.Context, executionID, nodeID, workerID string) error {
	node, err := r.svc.GetTransaction(ctx, executionID, nodeID)
	if err != nil {
		return fmt.Errorf("worker %s load %s: %w", workerID, nodeID, err)
	}

	execErr := r.exec(ctx, node)
	if execErr != nil {
		r.logger.Warn("transaction failed",
			slog.String("execution_id", executionID),
			slog.String("transaction_id", nodeID),
			slog.String("worker_id", workerID),
			slog.String("error", execErr.Error()),
		)
		if err := r.svc.MarkTransactionError(ctx, executionID, nodeID, execErr.Error()); err != nil {
			return fmt.Errorf("worker %s mark error %s: %w", workerID, nodeID, err)
		}
		return nil
	}

	if err := r.svc.MarkTransactionCompleted(ctx, executionID, nodeID); err != nil {
		return fmt.Errorf("worker %s complete %s: %w", workerID, nodeID, err)
	}
	return nil
}
