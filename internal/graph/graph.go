// Package graph implements the directed property graph shared by the schema
// and state sides of a version, together with its two wire encodings: the
// node-link document used for live files and the compressed document used for
// archive snapshots.
package graph

import (
	"reflect"
	"sort"
)

// Properties is the free-form attribute map carried by nodes and edges.
type Properties map[string]any

// Edge is a directed connection between two nodes. Type holds the
// relationship tag; Props holds every other attribute.
type Edge struct {
	Type  string
	Props Properties
}

// Graph is a directed property graph with at most one edge per ordered
// (source, target) pair. The zero value is not usable; call NewDirected.
type Graph struct {
	// Meta carries the top-level "graph" attributes of the node-link form
	// verbatim.
	Meta map[string]any

	nodes map[string]Properties
	out   map[string]map[string]*Edge
	in    map[string]map[string]struct{}
}

// NewDirected returns an empty directed graph.
func NewDirected() *Graph {
	return &Graph{
		Meta:  map[string]any{},
		nodes: map[string]Properties{},
		out:   map[string]map[string]*Edge{},
		in:    map[string]map[string]struct{}{},
	}
}

// NodeCount reports the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount reports the number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, targets := range g.out {
		n += len(targets)
	}
	return n
}

// HasNode reports whether id is present.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddNode inserts a node, replacing any existing properties for id.
func (g *Graph) AddNode(id string, props Properties) {
	if props == nil {
		props = Properties{}
	}
	g.nodes[id] = props
}

// NodeProps returns the live property map for id. Mutations through the
// returned map are visible in the graph.
func (g *Graph) NodeProps(id string) (Properties, bool) {
	p, ok := g.nodes[id]
	return p, ok
}

// Nodes returns all node ids in lexical order.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveNode deletes a node together with every incident edge. Removing an
// unknown id is a no-op.
func (g *Graph) RemoveNode(id string) {
	if !g.HasNode(id) {
		return
	}
	for target := range g.out[id] {
		delete(g.in[target], id)
	}
	delete(g.out, id)
	for source := range g.in[id] {
		delete(g.out[source], id)
	}
	delete(g.in, id)
	delete(g.nodes, id)
}

// AddEdge inserts the edge (source, target), replacing any existing edge for
// the pair. Missing endpoints are added with empty properties so that every
// edge endpoint always resolves to a node.
func (g *Graph) AddEdge(source, target, relType string, props Properties) {
	if !g.HasNode(source) {
		g.AddNode(source, nil)
	}
	if !g.HasNode(target) {
		g.AddNode(target, nil)
	}
	if props == nil {
		props = Properties{}
	}
	if g.out[source] == nil {
		g.out[source] = map[string]*Edge{}
	}
	g.out[source][target] = &Edge{Type: relType, Props: props}
	if g.in[target] == nil {
		g.in[target] = map[string]struct{}{}
	}
	g.in[target][source] = struct{}{}
}

// HasEdge reports whether the ordered pair (source, target) is connected.
func (g *Graph) HasEdge(source, target string) bool {
	_, ok := g.out[source][target]
	return ok
}

// EdgeBetween returns the live edge for (source, target). Mutations through
// the returned edge are visible in the graph.
func (g *Graph) EdgeBetween(source, target string) (*Edge, bool) {
	e, ok := g.out[source][target]
	return e, ok
}

// RemoveEdge deletes the edge (source, target) and reports whether one
// existed.
func (g *Graph) RemoveEdge(source, target string) bool {
	if _, ok := g.out[source][target]; !ok {
		return false
	}
	delete(g.out[source], target)
	delete(g.in[target], source)
	return true
}

// EdgeRef is a resolved edge with its endpoints, as returned by Edges.
type EdgeRef struct {
	Source string
	Target string
	Type   string
	Props  Properties
}

// Edges returns all edges ordered by (source, target).
func (g *Graph) Edges() []EdgeRef {
	refs := make([]EdgeRef, 0, g.EdgeCount())
	for source, targets := range g.out {
		for target, e := range targets {
			refs = append(refs, EdgeRef{Source: source, Target: target, Type: e.Type, Props: e.Props})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Source != refs[j].Source {
			return refs[i].Source < refs[j].Source
		}
		return refs[i].Target < refs[j].Target
	})
	return refs
}

// Descendants returns every node reachable from id by directed edges,
// excluding id itself, in lexical order. An unknown id has no descendants.
func (g *Graph) Descendants(id string) []string {
	if !g.HasNode(id) {
		return nil
	}
	seen := map[string]bool{id: true}
	queue := []string{id}
	var found []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for target := range g.out[current] {
			if seen[target] {
				continue
			}
			seen[target] = true
			found = append(found, target)
			queue = append(queue, target)
		}
	}
	sort.Strings(found)
	return found
}

// NodesWithProp returns the ids of all nodes whose property key holds the
// given string value, in lexical order.
func (g *Graph) NodesWithProp(key, value string) []string {
	var ids []string
	for id, props := range g.nodes {
		if s, ok := props[key].(string); ok && s == value {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Equal reports whether two graphs have identical nodes, edges, and metadata.
func (g *Graph) Equal(other *Graph) bool {
	if g.NodeCount() != other.NodeCount() || g.EdgeCount() != other.EdgeCount() {
		return false
	}
	if !reflect.DeepEqual(g.Meta, other.Meta) {
		return false
	}
	for id, props := range g.nodes {
		op, ok := other.nodes[id]
		if !ok || !reflect.DeepEqual(props, op) {
			return false
		}
	}
	for source, targets := range g.out {
		for target, e := range targets {
			oe, ok := other.out[source][target]
			if !ok || e.Type != oe.Type || !reflect.DeepEqual(e.Props, oe.Props) {
				return false
			}
		}
	}
	return true
}
