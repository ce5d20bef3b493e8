package change

import (
	"encoding/json"
	"fmt"

	"github.com/untoldecay/graphtwin/internal/graph"
)

// Op is one parsed mutation operation. The concrete types are NodeOp, EdgeOp,
// and DirectImport.
type Op interface {
	isOp()
}

// NodeOp creates, updates, or deletes a schema node.
type NodeOp struct {
	Verb       string
	NodeID     string
	NodeType   string
	Properties graph.Properties
	Cascade    bool
}

// EdgeOp creates, updates, or deletes a schema edge. EdgeTypeSet records
// whether the payload named an edge type, which a delete uses as a filter.
type EdgeOp struct {
	Verb        string
	SourceID    string
	TargetID    string
	EdgeType    string
	EdgeTypeSet bool
	Properties  graph.Properties
}

// DirectImport replaces the whole schema graph with a node-link document.
type DirectImport struct {
	Graph *graph.Graph
}

func (NodeOp) isOp()       {}
func (EdgeOp) isOp()       {}
func (DirectImport) isOp() {}

// ParseOp turns one payload item into a typed operation. The node and edge
// variants are discriminated by the presence of source_id and target_id, as
// producers have always encoded them.
func ParseOp(action string, item json.RawMessage) (Op, error) {
	if action == ActionDirectCreate {
		g, err := graph.Unmarshal(item)
		if err != nil {
			return nil, fmt.Errorf("direct_create: %v: %w", err, ErrMalformedPayload)
		}
		for _, id := range g.Nodes() {
			props, _ := g.NodeProps(id)
			if _, ok := props["node_type"].(string); !ok {
				return nil, fmt.Errorf("direct_create: node %s missing node_type: %w", id, ErrMalformedPayload)
			}
		}
		return DirectImport{Graph: g}, nil
	}

	var m map[string]any
	if err := json.Unmarshal(item, &m); err != nil {
		return nil, fmt.Errorf("decode payload item: %v: %w", err, ErrMalformedPayload)
	}
	graph.NormalizeValue(m)

	verb := Verb(action)
	_, hasSource := m["source_id"]
	_, hasTarget := m["target_id"]
	if hasSource && hasTarget {
		return parseEdgeOp(verb, m)
	}
	return parseNodeOp(verb, m)
}

func parseNodeOp(verb string, m map[string]any) (Op, error) {
	op := NodeOp{Verb: verb}

	id, ok := m["node_id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("node %s: missing node_id: %w", verb, ErrMalformedPayload)
	}
	op.NodeID = id

	if v, present := m["node_type"]; present {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("node %s %s: node_type must be a string: %w", verb, id, ErrMalformedPayload)
		}
		op.NodeType = s
	}
	if verb == ActionCreate && op.NodeType == "" {
		return nil, fmt.Errorf("node create %s: missing node_type: %w", id, ErrMalformedPayload)
	}

	props, err := propertiesField(m, verb == ActionCreate)
	if err != nil {
		return nil, fmt.Errorf("node %s %s: %w", verb, id, err)
	}
	op.Properties = props

	if v, present := m["cascade"]; present {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("node %s %s: cascade must be a boolean: %w", verb, id, ErrMalformedPayload)
		}
		op.Cascade = b
	}
	return op, nil
}

func parseEdgeOp(verb string, m map[string]any) (Op, error) {
	op := EdgeOp{Verb: verb}

	source, ok := m["source_id"].(string)
	if !ok || source == "" {
		return nil, fmt.Errorf("edge %s: missing source_id: %w", verb, ErrMalformedPayload)
	}
	target, ok := m["target_id"].(string)
	if !ok || target == "" {
		return nil, fmt.Errorf("edge %s: missing target_id: %w", verb, ErrMalformedPayload)
	}
	op.SourceID, op.TargetID = source, target

	if v, present := m["edge_type"]; present {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("edge %s %s->%s: edge_type must be a string: %w", verb, source, target, ErrMalformedPayload)
		}
		op.EdgeType = s
		op.EdgeTypeSet = true
	}
	if verb != ActionDelete && !op.EdgeTypeSet {
		return nil, fmt.Errorf("edge %s %s->%s: missing edge_type: %w", verb, source, target, ErrMalformedPayload)
	}

	props, err := propertiesField(m, false)
	if err != nil {
		return nil, fmt.Errorf("edge %s %s->%s: %w", verb, source, target, err)
	}
	op.Properties = props
	return op, nil
}

// propertiesField extracts the optional properties map. Create payloads must
// carry one, matching the original producer contract.
func propertiesField(m map[string]any, required bool) (graph.Properties, error) {
	v, present := m["properties"]
	if !present {
		if required {
			return nil, fmt.Errorf("missing properties: %w", ErrMalformedPayload)
		}
		return graph.Properties{}, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("properties must be an object: %w", ErrMalformedPayload)
	}
	return graph.Properties(obj), nil
}
