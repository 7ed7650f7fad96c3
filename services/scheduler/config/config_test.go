// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeFile(t, "scheduler.yaml", `
storage:
  path: /var/lib/meridian/scheduler
  sync_writes: true
runner:
  workers: 16
  poll_interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/meridian/scheduler", cfg.Storage.Path)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, 16, cfg.Runner.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Runner.PollInterval)
}

func TestLoadAppliesRunnerDefaults(t *testing.T) {
	path := writeFile(t, "scheduler.yaml", `
storage:
  in_memory: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, cfg.Runner.Workers)
	assert.Equal(t, DefaultPollInterval, cfg.Runner.PollInterval)
}

func TestLoadRejectsMissingStoragePath(t *testing.T) {
	path := writeFile(t, "scheduler.yaml", `
storage:
  path: ""
  in_memory: false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.path")
}

func TestLoadRejectsWorkerCountOutOfRange(t *testing.T) {
	path := writeFile(t, "scheduler.yaml", `
storage:
  in_memory: true
runner:
  workers: 1000
  poll_interval: 100ms
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	big := make([]byte, MaxYAMLFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, big, 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadPlan(t *testing.T) {
	path := writeFile(t, "plan.yaml", `
execution_id: eod-2026-08-27
business_date: "2026-08-27"
transactions:
  - txn-settle
  - txn-fees
  - txn-report
edges:
  - source: txn-settle
    target: txn-fees
    type: SEQUENTIAL
    priority: 80
    max_wait: 5m
  - source: txn-fees
    target: txn-report
`)

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "eod-2026-08-27", plan.ExecutionID)
	assert.Equal(t, "2026-08-27", plan.BusinessDate)
	assert.Len(t, plan.Transactions, 3)

	edges := plan.GraphEdges()
	require.Len(t, edges, 2)
	assert.Equal(t, graph.EdgeSequential, edges[0].Type)
	assert.Equal(t, 80, edges[0].Priority)
	assert.Equal(t, 5*time.Minute, edges[0].MaxWait)
	assert.True(t, edges[0].Active)

	// Unset type and priority pick up defaults.
	assert.Equal(t, graph.EdgeSequential, edges[1].Type)
	assert.Equal(t, 50, edges[1].Priority)
}

func TestLoadPlanRequiresTransactions(t *testing.T) {
	path := writeFile(t, "plan.yaml", `
execution_id: empty
transactions: []
`)

	_, err := LoadPlan(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transactions")
}
