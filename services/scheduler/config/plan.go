// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

// Plan describes one batch execution: the transaction set and the
// dependency edges to register before building the graph.
type Plan struct {
	ExecutionID  string     `yaml:"execution_id"`
	BusinessDate string     `yaml:"business_date"`
	Transactions []string   `yaml:"transactions"`
	Edges        []PlanEdge `yaml:"edges"`
}

// PlanEdge is the YAML shape of a dependency edge.
type PlanEdge struct {
	Source   string        `yaml:"source"`
	Target   string        `yaml:"target"`
	Type     string        `yaml:"type"`
	Priority int           `yaml:"priority"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// LoadPlan reads an execution plan from a YAML file.
//
// Outputs:
//
//	Plan - The parsed plan.
//	error - Non-nil if the file is missing, oversized, malformed, or has
//	no transactions.
func LoadPlan(path string) (Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Plan{}, fmt.Errorf("stat plan file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return Plan{}, fmt.Errorf("plan file %s exceeds %d bytes", path, MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan file: %w", err)
	}
	if len(plan.Transactions) == 0 {
		return Plan{}, fmt.Errorf("plan %s has no transactions", path)
	}
	return plan, nil
}

// GraphEdges converts the plan's edges to dependency edges with defaults
// applied: missing type becomes SEQUENTIAL, missing priority becomes 50,
// and every edge is active.
func (p *Plan) GraphEdges() []graph.DependencyEdge {
	edges := make([]graph.DependencyEdge, 0, len(p.Edges))
	for _, e := range p.Edges {
		typ := graph.EdgeType(e.Type)
		if e.Type == "" {
			typ = graph.EdgeSequential
		}
		priority := e.Priority
		if priority == 0 {
			priority = 50
		}
		edges = append(edges, graph.DependencyEdge{
			Source:   e.Source,
			Target:   e.Target,
			Type:     typ,
			Priority: priority,
			MaxWait:  e.MaxWait,
			Active:   true,
		})
	}
	return edges
}
