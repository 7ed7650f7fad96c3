// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides the observability sink for the scheduler
// service: pre-registered OpenTelemetry counters and histograms covering
// graph builds, cycle detection, and live execution transitions.
//
// All metrics use the "sched_" prefix for consistent naming.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the scheduler service.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Build Metrics ---

	// GraphBuildsTotal counts graph build operations by outcome
	// (success, cycle, persistence_error, internal_error).
	GraphBuildsTotal metric.Int64Counter

	// GraphBuildDuration records total build duration in seconds.
	GraphBuildDuration metric.Float64Histogram

	// CycleChecksTotal counts cycle-detection runs.
	CycleChecksTotal metric.Int64Counter

	// CycleCheckDuration records cycle-detection duration in seconds.
	CycleCheckDuration metric.Float64Histogram

	// TopoSortsTotal counts topological-sort runs.
	TopoSortsTotal metric.Int64Counter

	// GraphPersistDuration records snapshot persistence duration in seconds.
	GraphPersistDuration metric.Float64Histogram

	// --- Execution Metrics ---

	// ResolutionsTotal counts successfully resolved (completed) transactions.
	ResolutionsTotal metric.Int64Counter

	// TransitionsTotal counts node status transitions by from/to status.
	TransitionsTotal metric.Int64Counter

	// ActiveTransactions tracks transactions currently executing.
	ActiveTransactions metric.Int64UpDownCounter
}

// NewMetrics creates a Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("scheduler")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.CycleChecksTotal.Add(ctx, 1)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Build Metrics ---
	m.GraphBuildsTotal, err = meter.Int64Counter(
		"sched_graph_builds_total",
		metric.WithDescription("Total graph build operations by outcome"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_builds_total: %w", err)
	}

	m.GraphBuildDuration, err = meter.Float64Histogram(
		"sched_graph_build_duration_seconds",
		metric.WithDescription("Graph build duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_build_duration: %w", err)
	}

	m.CycleChecksTotal, err = meter.Int64Counter(
		"sched_cycle_checks_total",
		metric.WithDescription("Total cycle-detection runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle_checks_total: %w", err)
	}

	m.CycleCheckDuration, err = meter.Float64Histogram(
		"sched_cycle_check_duration_seconds",
		metric.WithDescription("Cycle-detection duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle_check_duration: %w", err)
	}

	m.TopoSortsTotal, err = meter.Int64Counter(
		"sched_topo_sorts_total",
		metric.WithDescription("Total topological-sort runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create topo_sorts_total: %w", err)
	}

	m.GraphPersistDuration, err = meter.Float64Histogram(
		"sched_graph_persist_duration_seconds",
		metric.WithDescription("Graph snapshot persistence duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_persist_duration: %w", err)
	}

	// --- Execution Metrics ---
	m.ResolutionsTotal, err = meter.Int64Counter(
		"sched_resolutions_total",
		metric.WithDescription("Total successfully resolved transactions"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resolutions_total: %w", err)
	}

	m.TransitionsTotal, err = meter.Int64Counter(
		"sched_transitions_total",
		metric.WithDescription("Total node status transitions by from/to status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transitions_total: %w", err)
	}

	m.ActiveTransactions, err = meter.Int64UpDownCounter(
		"sched_active_transactions",
		metric.WithDescription("Transactions currently executing"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_transactions: %w", err)
	}

	return m, nil
}
