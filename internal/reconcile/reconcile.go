// Package reconcile implements the mutation algebra: how one decoded change
// payload transforms a version's schema graph and the state graph derived
// from it.
//
// Node and edge operations mutate the schema graph directly. The state graph
// is never mutated by payloads; it is reconciled, whenever a schema node's
// units_in_chain changes, so that the number of instances bound to that node
// equals the target count. Creation stamps valid_from/valid_to windows;
// shrinking evicts the instances closest to expiry first, deterministically.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/graph"
)

var (
	// ErrMissingNode reports an update or delete on a node the schema does
	// not contain.
	ErrMissingNode = errors.New("node does not exist in schema")

	// ErrMissingEndpoint reports an edge create whose source or target is
	// not in the schema.
	ErrMissingEndpoint = errors.New("edge endpoint does not exist in schema")

	// ErrMissingEdge reports an edge update or delete on an absent edge,
	// after the update retry budget is spent.
	ErrMissingEdge = errors.New("edge does not exist in schema")
)

// defaultExpirySeconds is one year, the valid_to window applied when a
// payload does not carry an expiry property.
const defaultExpirySeconds = 31536000

// Graphs is one version's live pair.
type Graphs struct {
	Schema *graph.Graph
	State  *graph.Graph
}

// ItemResult reports the outcome of one sub-item of a bulk payload.
type ItemResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Engine applies envelopes to graph pairs. One engine serves all versions;
// it holds tuning knobs, not graph state.
type Engine struct {
	log *slog.Logger

	defaultExpiry int64
	retryAttempts uint64
	retryBackoff  time.Duration
	bulkLogEvery  int

	newID func() string
}

// New builds an engine with tuning read from configuration, falling back to
// the documented defaults when unset.
func New(log *slog.Logger) *Engine {
	e := &Engine{
		log:           log,
		defaultExpiry: int64(config.GetInt("reconcile.default_expiry_s")),
		retryAttempts: uint64(config.GetInt("worker.edge_retry_attempts")),
		retryBackoff:  time.Duration(config.GetInt("worker.edge_retry_backoff_ms")) * time.Millisecond,
		bulkLogEvery:  config.GetInt("worker.bulk_log_every"),
		newID:         uuid.NewString,
	}
	if e.defaultExpiry <= 0 {
		e.defaultExpiry = defaultExpirySeconds
	}
	if e.retryAttempts == 0 {
		e.retryAttempts = 3
	}
	if e.retryBackoff <= 0 {
		e.retryBackoff = 100 * time.Millisecond
	}
	if e.bulkLogEvery <= 0 {
		e.bulkLogEvery = 100
	}
	return e
}

// Apply dispatches env against gr. For bulk actions it applies sub-items in
// list order, captures per-item outcomes, and keeps going past failures; the
// returned error is non-nil only when the whole payload failed (single item
// actions) or ctx was cancelled mid-bulk.
func (e *Engine) Apply(ctx context.Context, gr *Graphs, env *change.Envelope) ([]ItemResult, error) {
	if !change.IsBulk(env.Action) {
		op, err := change.ParseOp(env.Action, env.Payload)
		if err != nil {
			return nil, err
		}
		return nil, e.applyOp(ctx, gr, op, env.Timestamp)
	}

	items := env.Items()
	results := make([]ItemResult, 0, len(items))
	applied := 0
	start := time.Now()
	for i, raw := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := ItemResult{Index: i, Status: "applied"}
		op, err := change.ParseOp(env.Action, raw)
		if err == nil {
			err = e.applyOp(ctx, gr, op, env.Timestamp)
		}
		if err != nil {
			res.Status = "error"
			res.Error = err.Error()
			e.log.Warn("bulk item failed",
				"action", env.Action, "version", env.Version, "index", i, "error", err)
		} else {
			applied++
		}
		results = append(results, res)

		if (i+1)%e.bulkLogEvery == 0 {
			elapsed := time.Since(start)
			e.log.Info("bulk progress",
				"action", env.Action,
				"version", env.Version,
				"done", i+1,
				"total", len(items),
				"rate_per_s", float64(i+1)/elapsed.Seconds())
		}
	}
	e.log.Info("bulk complete",
		"action", env.Action, "version", env.Version,
		"applied", applied, "failed", len(items)-applied,
		"duration", time.Since(start))
	return results, nil
}

func (e *Engine) applyOp(ctx context.Context, gr *Graphs, op change.Op, ts int64) error {
	switch op := op.(type) {
	case change.NodeOp:
		switch op.Verb {
		case change.ActionCreate:
			return e.createNode(gr, op, ts)
		case change.ActionUpdate:
			return e.updateNode(gr, op, ts)
		case change.ActionDelete:
			return e.deleteNode(gr, op, ts)
		}
	case change.EdgeOp:
		switch op.Verb {
		case change.ActionCreate:
			return e.createEdge(gr, op)
		case change.ActionUpdate:
			return e.updateEdge(ctx, gr, op)
		case change.ActionDelete:
			return e.deleteEdge(gr, op)
		}
	case change.DirectImport:
		return e.applyDirect(gr, op, ts)
	}
	return fmt.Errorf("unhandled operation %T", op)
}

// createNode inserts the node, or merges into it if the id is already
// present, which makes replayed creates harmless.
func (e *Engine) createNode(gr *Graphs, op change.NodeOp, ts int64) error {
	if props, ok := gr.Schema.NodeProps(op.NodeID); ok {
		for k, v := range op.Properties {
			props[k] = v
		}
		props["node_type"] = op.NodeType
		props["updated_at"] = ts
		e.log.Info("node already exists, merged properties", "node", op.NodeID)
	} else {
		props := graph.Properties{}
		for k, v := range op.Properties {
			props[k] = v
		}
		props["node_type"] = op.NodeType
		props["created_at"] = ts
		props["updated_at"] = ts
		gr.Schema.AddNode(op.NodeID, props)
	}

	if units, present := op.Properties["units_in_chain"]; present {
		e.reconcileInstances(gr, op.NodeID, op.NodeType, toCount(units), ts, e.validTo(op.Properties, ts))
	}
	return nil
}

func (e *Engine) updateNode(gr *Graphs, op change.NodeOp, ts int64) error {
	props, ok := gr.Schema.NodeProps(op.NodeID)
	if !ok {
		return fmt.Errorf("node %s: %w", op.NodeID, ErrMissingNode)
	}
	for k, v := range op.Properties {
		props[k] = v
	}
	if op.NodeType != "" {
		props["node_type"] = op.NodeType
	}
	props["updated_at"] = ts

	if units, present := op.Properties["units_in_chain"]; present {
		nodeType, _ := props["node_type"].(string)
		e.reconcileInstances(gr, op.NodeID, nodeType, toCount(units), ts, e.validTo(op.Properties, ts))
	}
	return nil
}

// deleteNode removes the node, with cascade following directed edges. Every
// removed holder of units_in_chain has its instances evicted first, so the
// state graph never keeps orphans.
func (e *Engine) deleteNode(gr *Graphs, op change.NodeOp, ts int64) error {
	if !gr.Schema.HasNode(op.NodeID) {
		return fmt.Errorf("node %s: %w", op.NodeID, ErrMissingNode)
	}

	removing := []string{op.NodeID}
	if op.Cascade {
		removing = append(removing, gr.Schema.Descendants(op.NodeID)...)
	}

	for _, id := range removing {
		props, ok := gr.Schema.NodeProps(id)
		if !ok {
			continue
		}
		if _, has := props["units_in_chain"]; has {
			nodeType, _ := props["node_type"].(string)
			e.reconcileInstances(gr, id, nodeType, 0, ts, 0)
		}
	}
	for _, id := range removing {
		gr.Schema.RemoveNode(id)
	}
	if op.Cascade {
		e.log.Info("cascade delete removed nodes", "root", op.NodeID, "count", len(removing))
	}
	return nil
}

// createEdge validates both endpoints, then inserts the edge or, when the
// pair already exists, merges properties and overwrites the relationship
// type. Producers re-send edge creates on retry.
func (e *Engine) createEdge(gr *Graphs, op change.EdgeOp) error {
	if !gr.Schema.HasNode(op.SourceID) {
		return fmt.Errorf("source node %s: %w", op.SourceID, ErrMissingEndpoint)
	}
	if !gr.Schema.HasNode(op.TargetID) {
		return fmt.Errorf("target node %s: %w", op.TargetID, ErrMissingEndpoint)
	}

	if edge, ok := gr.Schema.EdgeBetween(op.SourceID, op.TargetID); ok {
		for k, v := range op.Properties {
			edge.Props[k] = v
		}
		edge.Type = op.EdgeType
		return nil
	}
	gr.Schema.AddEdge(op.SourceID, op.TargetID, op.EdgeType, op.Properties)
	return nil
}

// updateEdge merges properties into an existing edge. A bounded retry with
// constant backoff tolerates an edge create that is still a few queue items
// behind; after the budget is spent the caller's requeue gives the pair
// another full pass.
func (e *Engine) updateEdge(ctx context.Context, gr *Graphs, op change.EdgeOp) error {
	apply := func() error {
		edge, ok := gr.Schema.EdgeBetween(op.SourceID, op.TargetID)
		if !ok {
			return fmt.Errorf("edge %s -> %s: %w", op.SourceID, op.TargetID, ErrMissingEdge)
		}
		for k, v := range op.Properties {
			edge.Props[k] = v
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryBackoff), e.retryAttempts-1),
		ctx)
	return backoff.Retry(apply, policy)
}

// deleteEdge removes the pair. When the payload names an edge type and the
// stored relationship type differs, the edge is left alone and the delete
// succeeds as a no-op.
func (e *Engine) deleteEdge(gr *Graphs, op change.EdgeOp) error {
	edge, ok := gr.Schema.EdgeBetween(op.SourceID, op.TargetID)
	if !ok {
		return fmt.Errorf("edge %s -> %s: %w", op.SourceID, op.TargetID, ErrMissingEdge)
	}
	if op.EdgeTypeSet && edge.Type != op.EdgeType {
		e.log.Info("edge delete skipped, type mismatch",
			"source", op.SourceID, "target", op.TargetID,
			"want", op.EdgeType, "have", edge.Type)
		return nil
	}
	gr.Schema.RemoveEdge(op.SourceID, op.TargetID)
	return nil
}

// applyDirect replaces the schema graph with the imported document and
// rebuilds the state graph from empty, reconciling every units_in_chain
// holder against it.
func (e *Engine) applyDirect(gr *Graphs, op change.DirectImport, ts int64) error {
	gr.Schema = op.Graph
	gr.State = graph.NewDirected()

	for _, id := range gr.Schema.Nodes() {
		props, _ := gr.Schema.NodeProps(id)
		units, present := props["units_in_chain"]
		if !present {
			continue
		}
		nodeType, _ := props["node_type"].(string)
		e.reconcileInstances(gr, id, nodeType, toCount(units), ts, e.validTo(props, ts))
	}
	e.log.Info("direct import replaced schema",
		"nodes", gr.Schema.NodeCount(),
		"edges", gr.Schema.EdgeCount(),
		"instances", gr.State.NodeCount())
	return nil
}

// reconcileInstances drives the instance count for parentID to target.
// Growth creates anonymous instances stamped with the event timestamp and
// validity window; shrinkage evicts in ascending valid_to order (created_at
// when valid_to is absent), ties broken by instance id, which makes the
// survivor set identical across replays.
func (e *Engine) reconcileInstances(gr *Graphs, parentID, nodeType string, target int, ts, validTo int64) {
	if target < 0 {
		target = 0
	}
	instances := gr.State.NodesWithProp("parent_id", parentID)
	current := len(instances)

	switch {
	case current < target:
		for i := 0; i < target-current; i++ {
			gr.State.AddNode(e.newID(), graph.Properties{
				"parent_id":  parentID,
				"node_type":  nodeType,
				"created_at": ts,
				"valid_from": ts,
				"valid_to":   validTo,
			})
		}
		e.log.Info("created instances", "parent", parentID, "added", target-current, "target", target)

	case current > target:
		sort.Slice(instances, func(i, j int) bool {
			a, b := e.evictKey(gr, instances[i]), e.evictKey(gr, instances[j])
			if a != b {
				return a < b
			}
			return instances[i] < instances[j]
		})
		for _, id := range instances[:current-target] {
			gr.State.RemoveNode(id)
		}
		e.log.Info("evicted instances", "parent", parentID, "removed", current-target, "target", target)
	}
}

// evictKey orders instances for eviction: soonest valid_to first, falling
// back to created_at for instances without a validity window.
func (e *Engine) evictKey(gr *Graphs, id string) int64 {
	props, ok := gr.State.NodeProps(id)
	if !ok {
		return 0
	}
	if v, present := props["valid_to"]; present {
		return toInt64(v)
	}
	return toInt64(props["created_at"])
}

// validTo computes the absolute expiry for new instances: the event
// timestamp plus the payload's expiry offset, or plus the default window.
func (e *Engine) validTo(props graph.Properties, ts int64) int64 {
	if v, present := props["expiry"]; present {
		return ts + toInt64(v)
	}
	return ts + e.defaultExpiry
}

// toCount coerces a units_in_chain value to a target count. Producers send
// numbers and numeric strings; anything unparsable counts as zero.
func toCount(v any) int {
	return int(toInt64(v))
}

func toInt64(v any) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
