// Package graphtwin provides a minimal public API for embedding the graph
// mutation engine in other Go programs.
//
// Most integrations should push change envelopes at a running `gt serve` over
// HTTP. This package exports only the types and constructors needed to drive
// the store, queue, and reconciler in process, without spawning the CLI.
//
// For the on-disk layout and envelope contract, see docs/EMBEDDING.md.
package graphtwin

import (
	"log/slog"

	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/graph"
	"github.com/untoldecay/graphtwin/internal/queue"
	"github.com/untoldecay/graphtwin/internal/reconcile"
	"github.com/untoldecay/graphtwin/internal/store"
)

// Envelope is one versioned, timestamped change.
type Envelope = change.Envelope

// DecodeEnvelope parses and validates envelope bytes.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	return change.Decode(body)
}

// Core graph types.
type (
	Graph      = graph.Graph
	Properties = graph.Properties
	Stats      = graph.Stats
)

// NewGraph returns an empty directed graph.
func NewGraph() *Graph {
	return graph.NewDirected()
}

// MarshalGraph encodes g as a node-link JSON document.
func MarshalGraph(g *Graph) ([]byte, error) {
	return graph.Marshal(g)
}

// UnmarshalGraph decodes a node-link JSON document.
func UnmarshalGraph(data []byte) (*Graph, error) {
	return graph.Unmarshal(data)
}

// Store is the per-version directory store.
type Store = store.Store

// Kind selects one of a version's two live graphs.
type Kind = store.Kind

// Graph kinds.
const (
	Schema = store.Schema
	State  = store.State
)

// OpenStore returns a store rooted at dir (typically .graphtwin/data).
func OpenStore(dir string) *Store {
	return store.New(dir)
}

// Queue is the change transport between producers and workers.
type Queue = queue.Queue

// OpenSQLiteQueue opens (creating if needed) a SQLite-backed queue at path.
func OpenSQLiteQueue(path string) (Queue, error) {
	return queue.OpenSQLite(path)
}

// OpenRedisQueue connects to a Redis-backed queue at url (redis://host:port).
func OpenRedisQueue(url, key string) (Queue, error) {
	return queue.OpenRedis(url, key)
}

// Engine applies envelopes to graph pairs.
type Engine = reconcile.Engine

// Graphs is one version's live schema/state pair.
type Graphs = reconcile.Graphs

// ItemResult reports the outcome of one sub-item of a bulk payload.
type ItemResult = reconcile.ItemResult

// NewEngine builds a reconcile engine. A nil logger uses the process default.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return reconcile.New(log)
}

// Envelope actions.
const (
	ActionCreate       = change.ActionCreate
	ActionUpdate       = change.ActionUpdate
	ActionDelete       = change.ActionDelete
	ActionBulkCreate   = change.ActionBulkCreate
	ActionBulkUpdate   = change.ActionBulkUpdate
	ActionBulkDelete   = change.ActionBulkDelete
	ActionDirectCreate = change.ActionDirectCreate
)

// Envelope target graphs.
const (
	TypeSchema = change.TypeSchema
	TypeState  = change.TypeState
)
