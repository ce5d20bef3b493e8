package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrCodec marks a graph document that cannot be decoded. Archive readers
// treat it as "skip this snapshot"; live readers surface it.
var ErrCodec = errors.New("malformed graph document")

// Reserved keys of the node-link form. They never appear inside a node's or
// edge's property map.
const (
	keyID       = "id"
	keySource   = "source"
	keyTarget   = "target"
	keyRelType  = "relationship_type"
	keyNodeType = "node_type"
)

// nodeLinkDoc is the canonical live encoding: a directed property graph as
// produced by node-link serialisers.
type nodeLinkDoc struct {
	Directed   bool             `json:"directed"`
	Multigraph bool             `json:"multigraph"`
	Graph      map[string]any   `json:"graph"`
	Nodes      []map[string]any `json:"nodes"`
	Links      []map[string]any `json:"links"`
}

// Marshal encodes g as an indented node-link JSON document. Nodes are ordered
// by id and links by (source, target) so identical graphs always produce
// identical bytes.
func Marshal(g *Graph) ([]byte, error) {
	doc := nodeLinkDoc{
		Directed:   true,
		Multigraph: false,
		Graph:      g.Meta,
		Nodes:      make([]map[string]any, 0, g.NodeCount()),
		Links:      make([]map[string]any, 0, g.EdgeCount()),
	}
	if doc.Graph == nil {
		doc.Graph = map[string]any{}
	}
	for _, id := range g.Nodes() {
		props, _ := g.NodeProps(id)
		entry := make(map[string]any, len(props)+1)
		for k, v := range props {
			entry[k] = v
		}
		entry[keyID] = id
		doc.Nodes = append(doc.Nodes, entry)
	}
	for _, ref := range g.Edges() {
		entry := make(map[string]any, len(ref.Props)+3)
		for k, v := range ref.Props {
			entry[k] = v
		}
		entry[keyRelType] = ref.Type
		entry[keySource] = ref.Source
		entry[keyTarget] = ref.Target
		doc.Links = append(doc.Links, entry)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal decodes a node-link JSON document into a graph. Integral numbers
// decode as int64 so that timestamps and counts keep a stable type across
// round trips.
func Unmarshal(data []byte) (*Graph, error) {
	var doc nodeLinkDoc
	if err := decodeStrictNumbers(data, &doc); err != nil {
		return nil, fmt.Errorf("decode node-link document: %v: %w", err, ErrCodec)
	}
	g := NewDirected()
	if doc.Graph != nil {
		g.Meta = doc.Graph
	}
	for i, entry := range doc.Nodes {
		id, ok := entry[keyID].(string)
		if !ok {
			return nil, fmt.Errorf("node %d: missing or non-string id: %w", i, ErrCodec)
		}
		props := make(Properties, len(entry)-1)
		for k, v := range entry {
			if k == keyID {
				continue
			}
			props[k] = v
		}
		g.AddNode(id, props)
	}
	for i, entry := range doc.Links {
		source, ok := entry[keySource].(string)
		if !ok {
			return nil, fmt.Errorf("link %d: missing or non-string source: %w", i, ErrCodec)
		}
		target, ok := entry[keyTarget].(string)
		if !ok {
			return nil, fmt.Errorf("link %d: missing or non-string target: %w", i, ErrCodec)
		}
		relType, _ := entry[keyRelType].(string)
		props := make(Properties, len(entry)-3)
		for k, v := range entry {
			switch k {
			case keySource, keyTarget, keyRelType:
				continue
			}
			props[k] = v
		}
		g.AddEdge(source, target, relType, props)
	}
	return g, nil
}

// decodeStrictNumbers unmarshals into v keeping numbers as json.Number, then
// rewrites them in place to int64 (when integral) or float64.
func decodeStrictNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	switch t := v.(type) {
	case *nodeLinkDoc:
		t.Graph = asMap(NormalizeValue(t.Graph))
		normalizeEntries(t.Nodes)
		normalizeEntries(t.Links)
	case *CompressedDoc:
		t.Graph = asMap(NormalizeValue(t.Graph))
		for typ, rows := range t.NodeValues {
			for i, row := range rows {
				t.NodeValues[typ][i] = asSlice(NormalizeValue(row))
			}
		}
		for i, row := range t.LinkValues {
			t.LinkValues[i] = asSlice(NormalizeValue(row))
		}
	}
	return nil
}

func normalizeEntries(entries []map[string]any) {
	for i, entry := range entries {
		entries[i] = asMap(NormalizeValue(entry))
	}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

// NormalizeValue rewrites decoded JSON values recursively: json.Number and
// integral float64 become int64, other numbers become float64. Maps and
// slices are normalised in place.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		for k, vv := range t {
			t[k] = NormalizeValue(vv)
		}
		return t
	case Properties:
		for k, vv := range t {
			t[k] = NormalizeValue(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = NormalizeValue(vv)
		}
		return t
	default:
		return v
	}
}

// sortedExtraKeys returns the keys of props that are not already recorded in
// seen, in lexical order.
func sortedExtraKeys(props Properties, seen map[string]bool) []string {
	var extra []string
	for k := range props {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}
