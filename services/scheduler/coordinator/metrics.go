// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordinator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/telemetry"
)

// Package-level tracer for scheduler operations.
var tracer = otel.Tracer("meridian.scheduler")

// startBuildSpan creates a span for a graph build.
func startBuildSpan(ctx context.Context, executionID, correlationID string, nodeCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service.BuildExecutionGraph",
		trace.WithAttributes(
			attribute.String("sched.execution_id", executionID),
			attribute.String("sched.correlation_id", correlationID),
			attribute.Int("sched.node_count", nodeCount),
		),
	)
}

// recordBuildOutcome records the build counter with its outcome attribute.
func recordBuildOutcome(ctx context.Context, m *telemetry.Metrics, outcome string) {
	if m == nil {
		return
	}
	m.GraphBuildsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// recordTransition records a node status transition.
func recordTransition(ctx context.Context, m *telemetry.Metrics, from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
