// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command scheduler validates and runs batch execution plans.
//
// The scheduler loads an execution plan (transaction set plus dependency
// edges), registers the edges, builds the dependency graph, and either
// prints the level schedule (default) or drives the execution with a
// worker pool.
//
// Usage:
//
//	go run ./cmd/scheduler -plan plans/eod.yaml
//	go run ./cmd/scheduler -plan plans/eod.yaml -run -workers 8
//	go run ./cmd/scheduler -config scheduler.yaml -plan plans/eod.yaml -run
//
// A cyclic plan exits with status 2 and prints the offending dependency
// path so operators can correct the configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/config"
	"github.com/MeridianClear/MeridianBatch/services/scheduler/coordinator"
	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
	"github.com/MeridianClear/MeridianBatch/services/scheduler/runner"
	badgerstore "github.com/MeridianClear/MeridianBatch/services/scheduler/storage/badger"
	"github.com/MeridianClear/MeridianBatch/services/scheduler/telemetry"
	"go.opentelemetry.io/otel"
)

func main() {
	configPath := flag.String("config", "", "Path to scheduler config YAML (optional)")
	planPath := flag.String("plan", "", "Path to execution plan YAML (required)")
	run := flag.Bool("run", false, "Execute the plan instead of only printing the schedule")
	workers := flag.Int("workers", 0, "Worker pool size (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "usage: scheduler -plan <plan.yaml> [-config <scheduler.yaml>] [-run]")
		os.Exit(1)
	}

	if err := schedule(logger, *configPath, *planPath, *run, *workers); err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			fmt.Fprintf(os.Stderr, "dependency cycle: %s\n", cycleErr.Error())
			os.Exit(2)
		}
		logger.Error("scheduler failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func schedule(logger *slog.Logger, configPath, planPath string, run bool, workerOverride int) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if workerOverride > 0 {
		cfg.Runner.Workers = workerOverride
	}

	plan, err := config.LoadPlan(planPath)
	if err != nil {
		return err
	}
	executionID := plan.ExecutionID
	if executionID == "" {
		executionID = strings.TrimSuffix(planPath, ".yaml")
	}

	db, err := badgerstore.Open(badgerstore.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	store, err := badgerstore.NewStore(db, logger)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("meridian.scheduler"))
	if err != nil {
		return err
	}

	svc, err := coordinator.NewService(store, metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, edge := range plan.GraphEdges() {
		if err := store.PutEdgeDefinition(ctx, edge); err != nil {
			return fmt.Errorf("register edge %s -> %s: %w", edge.Source, edge.Target, err)
		}
	}

	result, err := svc.BuildExecutionGraph(ctx, executionID, plan.Transactions, "", plan.BusinessDate)
	if err != nil {
		return err
	}

	fmt.Printf("execution %s: %d transactions, %d levels\n",
		result.ExecutionID, len(result.Order), len(result.Levels))
	for i, level := range result.Levels {
		fmt.Printf("  level %d: %s\n", i, strings.Join(level, " "))
	}

	if !run {
		return nil
	}

	r, err := runner.New(svc, executeTransaction, runner.Options{
		Workers:      cfg.Runner.Workers,
		PollInterval: cfg.Runner.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	summary, err := r.Run(ctx, executionID)
	if err != nil {
		return err
	}

	fmt.Printf("completed %d/%d, errored %d, stuck %d (%.1f%%)\n",
		summary.Completed, summary.Total, summary.Errored, len(summary.Stuck), summary.CompletionPct)
	if len(summary.Stuck) > 0 {
		fmt.Printf("  stuck: %s\n", strings.Join(summary.Stuck, " "))
		return fmt.Errorf("execution %s finished with stuck transactions", executionID)
	}
	return nil
}

// executeTransaction is the submission hook. The scheduler owns ordering,
// not execution; hosting platforms replace this with their processing
// engine. Here it only logs the dispatch.
func executeTransaction(ctx context.Context, node *graph.TransactionNode) error {
	slog.InfoContext(ctx, "dispatching transaction",
		slog.String("execution_id", node.ExecutionID),
		slog.String("transaction_id", node.ID),
		slog.Int("level", node.Level),
	)
	return nil
}
