// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeridianClear/MeridianBatch/services/scheduler/graph"
)

// Key layout:
//
//	edgedef:<source>:<target>          dependency edge definition
//	exec:<executionID>:node:<nodeID>   persisted node state
//	exec:<executionID>:edge:<src>:<dst> persisted blocking edge
const (
	edgeDefPrefix = "edgedef:"
	execPrefix    = "exec:"
)

// Store-level prometheus metrics, registered once per process.
var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sched_store_operations_total",
		Help: "Total graph store operations by operation and status",
	}, []string{"op", "status"})

	storeCorrupt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sched_store_corrupt_records_total",
		Help: "Records that failed to decode and were skipped",
	})
)

// Store is the BadgerDB-backed graph repository.
//
// Description:
//
//	Store persists dependency edge definitions and per-execution graph
//	snapshots as JSON values. It satisfies the coordinator's Repository
//	interface. Snapshot writes are wrapped in a single transaction, so a
//	failed build persists nothing.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db       *DB
	logger   *slog.Logger
	validate *validator.Validate
}

// NewStore creates a Store on an open database.
//
// Inputs:
//
//	db - The open database. Must not be nil.
//	logger - Logger for decode warnings. If nil, uses slog.Default().
//
// Outputs:
//
//	*Store - The repository.
//	error - Non-nil if db is nil.
func NewStore(db *DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		logger:   logger,
		validate: validator.New(),
	}, nil
}

func edgeDefKey(source, target string) []byte {
	return []byte(edgeDefPrefix + source + ":" + target)
}

func nodeKey(executionID, nodeID string) []byte {
	return []byte(execPrefix + executionID + ":node:" + nodeID)
}

func snapshotEdgeKey(executionID, source, target string) []byte {
	return []byte(execPrefix + executionID + ":edge:" + source + ":" + target)
}

// PutEdgeDefinition registers or replaces a dependency edge definition.
//
// Description:
//
//	Validates the edge (required endpoints, priority 1-100, recognized
//	type, no self-edge) and writes it keyed by ordered pair, so at most
//	one definition exists per (source, target). Deactivation is a write
//	of the same edge with Active=false.
//
// Outputs:
//
//	error - graph.ErrInvalidInput for a malformed edge, or the storage
//	error.
func (s *Store) PutEdgeDefinition(ctx context.Context, e graph.DependencyEdge) error {
	if err := s.validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrInvalidInput, err)
	}
	if e.Source == e.Target {
		return fmt.Errorf("%w: self-edge %s -> %s", graph.ErrInvalidInput, e.Source, e.Target)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown edge type %q", graph.ErrInvalidInput, e.Type)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal edge: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(edgeDefKey(e.Source, e.Target), data)
	})
	s.count("put_edge", err)
	return err
}

// DeactivateEdge marks an edge definition inactive without removing it.
func (s *Store) DeactivateEdge(ctx context.Context, source, target string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(edgeDefKey(source, target))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: edge %s -> %s", graph.ErrNotFound, source, target)
		}
		if err != nil {
			return err
		}

		var e graph.DependencyEdge
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return fmt.Errorf("decode edge: %w", err)
		}

		e.Active = false
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal edge: %w", err)
		}
		return txn.Set(edgeDefKey(source, target), data)
	})
	s.count("deactivate_edge", err)
	return err
}

// LoadActiveEdges returns the active edge definitions touching the
// transaction set.
//
// Description:
//
//	Scans the definition space and keeps active edges with at least one
//	endpoint in the set. Records that fail to decode are skipped with a
//	warning rather than failing the build; the builder applies the
//	stricter both-endpoints filter afterwards.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) LoadActiveEdges(ctx context.Context, transactionIDs []string) ([]graph.DependencyEdge, error) {
	wanted := make(map[string]bool, len(transactionIDs))
	for _, id := range transactionIDs {
		wanted[id] = true
	}

	var out []graph.DependencyEdge
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(edgeDefPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e graph.DependencyEdge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				storeCorrupt.Inc()
				s.logger.Warn("skipping undecodable edge definition",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !e.Active {
				continue
			}
			if wanted[e.Source] || wanted[e.Target] {
				out = append(out, e)
			}
		}
		return nil
	})
	s.count("load_edges", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveGraphSnapshot atomically persists one execution's nodes and edges.
func (s *Store) SaveGraphSnapshot(ctx context.Context, executionID string, nodes []*graph.TransactionNode, edges []graph.DependencyEdge) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, n := range nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("marshal node %s: %w", n.ID, err)
			}
			if err := txn.Set(nodeKey(executionID, n.ID), data); err != nil {
				return err
			}
		}
		for i := range edges {
			data, err := json.Marshal(&edges[i])
			if err != nil {
				return fmt.Errorf("marshal edge %s->%s: %w", edges[i].Source, edges[i].Target, err)
			}
			if err := txn.Set(snapshotEdgeKey(executionID, edges[i].Source, edges[i].Target), data); err != nil {
				return err
			}
		}
		return nil
	})
	s.count("save_snapshot", err)
	return err
}

// LoadGraph reads a persisted execution snapshot.
func (s *Store) LoadGraph(ctx context.Context, executionID string) ([]*graph.TransactionNode, []graph.DependencyEdge, error) {
	nodePrefix := []byte(execPrefix + executionID + ":node:")
	edgePrefix := []byte(execPrefix + executionID + ":edge:")

	var nodes []*graph.TransactionNode
	var edges []graph.DependencyEdge

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = nodePrefix
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var n graph.TransactionNode
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				it.Close()
				return fmt.Errorf("decode node %s: %w", it.Item().Key(), err)
			}
			nodes = append(nodes, &n)
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = edgePrefix
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e graph.DependencyEdge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode edge %s: %w", it.Item().Key(), err)
			}
			edges = append(edges, e)
		}
		return nil
	})
	s.count("load_graph", err)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// LoadNode reads a single persisted node.
func (s *Store) LoadNode(ctx context.Context, executionID, nodeID string) (*graph.TransactionNode, error) {
	var n graph.TransactionNode
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(executionID, nodeID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: node %s in execution %s", graph.ErrNotFound, nodeID, executionID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &n)
		})
	})
	s.count("load_node", err)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// SaveNode persists a node's current state.
func (s *Store) SaveNode(ctx context.Context, node *graph.TransactionNode) error {
	if node == nil || node.ID == "" || node.ExecutionID == "" {
		return fmt.Errorf("%w: node requires ID and ExecutionID", graph.ErrInvalidInput)
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node %s: %w", node.ID, err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(nodeKey(node.ExecutionID, node.ID), data)
	})
	s.count("save_node", err)
	return err
}

// DeleteGraph removes all persisted state for an execution.
//
// Outputs:
//
//	int - Number of records deleted.
//	error - Non-nil on storage failure.
func (s *Store) DeleteGraph(ctx context.Context, executionID string) (int, error) {
	prefix := []byte(execPrefix + executionID + ":")

	var keys [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		s.count("delete_graph", err)
		return 0, err
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	s.count("delete_graph", err)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// count records a store operation metric.
func (s *Store) count(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOps.WithLabelValues(op, status).Inc()
}
