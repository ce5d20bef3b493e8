package graph

import (
	"encoding/json"
	"fmt"
)

// CompressedDoc is the archive encoding. Property keys are factored out per
// node_type and relationship_type so repeated records shrink to value rows.
// The first cell of every link row is the relationship type, which selects
// the key list the remaining cells align with.
type CompressedDoc struct {
	Directed          bool                `json:"directed"`
	Multigraph        bool                `json:"multigraph"`
	Graph             map[string]any      `json:"graph"`
	NodeTypes         map[string][]string `json:"node_types"`
	RelationshipTypes map[string][]string `json:"relationship_types"`
	NodeValues        map[string][][]any  `json:"node_values"`
	LinkValues        [][]any             `json:"link_values"`
}

// Compress builds the compressed document for g. The key list for a type is
// the union of keys observed across its records, in first-seen order; a
// record missing a key stores null in that position. Every node must carry a
// node_type tag.
func Compress(g *Graph) (*CompressedDoc, error) {
	doc := &CompressedDoc{
		Directed:          true,
		Multigraph:        false,
		Graph:             g.Meta,
		NodeTypes:         map[string][]string{},
		RelationshipTypes: map[string][]string{},
		NodeValues:        map[string][][]any{},
		LinkValues:        [][]any{},
	}
	if doc.Graph == nil {
		doc.Graph = map[string]any{}
	}

	nodeIDs := g.Nodes()
	nodeSeen := map[string]map[string]bool{}
	for _, id := range nodeIDs {
		props, _ := g.NodeProps(id)
		typ, ok := props[keyNodeType].(string)
		if !ok {
			return nil, fmt.Errorf("node %s: missing node_type tag: %w", id, ErrCodec)
		}
		if _, known := doc.NodeTypes[typ]; !known {
			doc.NodeTypes[typ] = []string{keyID, keyNodeType}
			nodeSeen[typ] = map[string]bool{keyID: true, keyNodeType: true}
		}
		for _, k := range sortedExtraKeys(props, nodeSeen[typ]) {
			doc.NodeTypes[typ] = append(doc.NodeTypes[typ], k)
			nodeSeen[typ][k] = true
		}
	}
	for _, id := range nodeIDs {
		props, _ := g.NodeProps(id)
		typ := props[keyNodeType].(string)
		row := make([]any, 0, len(doc.NodeTypes[typ]))
		for _, k := range doc.NodeTypes[typ] {
			switch k {
			case keyID:
				row = append(row, id)
			default:
				row = append(row, props[k])
			}
		}
		doc.NodeValues[typ] = append(doc.NodeValues[typ], row)
	}

	edges := g.Edges()
	relSeen := map[string]map[string]bool{}
	for _, ref := range edges {
		if _, known := relSeen[ref.Type]; !known {
			relSeen[ref.Type] = map[string]bool{keyRelType: true, keySource: true, keyTarget: true}
			doc.RelationshipTypes[ref.Type] = []string{keyRelType}
		}
		for _, k := range sortedExtraKeys(ref.Props, relSeen[ref.Type]) {
			doc.RelationshipTypes[ref.Type] = append(doc.RelationshipTypes[ref.Type], k)
			relSeen[ref.Type][k] = true
		}
	}
	for typ := range doc.RelationshipTypes {
		doc.RelationshipTypes[typ] = append(doc.RelationshipTypes[typ], keySource, keyTarget)
	}
	for _, ref := range edges {
		keys := doc.RelationshipTypes[ref.Type]
		row := make([]any, 0, len(keys))
		for _, k := range keys {
			switch k {
			case keyRelType:
				row = append(row, ref.Type)
			case keySource:
				row = append(row, ref.Source)
			case keyTarget:
				row = append(row, ref.Target)
			default:
				row = append(row, ref.Props[k])
			}
		}
		doc.LinkValues = append(doc.LinkValues, row)
	}
	return doc, nil
}

// Decompress rebuilds a graph from its compressed document. Null cells decode
// to absent properties.
func Decompress(doc *CompressedDoc) (*Graph, error) {
	g := NewDirected()
	if doc.Graph != nil {
		g.Meta = doc.Graph
	}
	for typ, keys := range doc.NodeTypes {
		for i, row := range doc.NodeValues[typ] {
			if len(row) != len(keys) {
				return nil, fmt.Errorf("node row %d of type %s: %d cells for %d keys: %w", i, typ, len(row), len(keys), ErrCodec)
			}
			var id string
			props := Properties{}
			for j, k := range keys {
				if k == keyID {
					s, ok := row[j].(string)
					if !ok {
						return nil, fmt.Errorf("node row %d of type %s: non-string id: %w", i, typ, ErrCodec)
					}
					id = s
					continue
				}
				if row[j] != nil {
					props[k] = row[j]
				}
			}
			if id == "" {
				return nil, fmt.Errorf("node row %d of type %s: empty id: %w", i, typ, ErrCodec)
			}
			g.AddNode(id, props)
		}
	}
	for i, row := range doc.LinkValues {
		if len(row) == 0 {
			return nil, fmt.Errorf("link row %d: empty: %w", i, ErrCodec)
		}
		relType, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("link row %d: non-string relationship type: %w", i, ErrCodec)
		}
		keys, known := doc.RelationshipTypes[relType]
		if !known {
			return nil, fmt.Errorf("link row %d: unknown relationship type %q: %w", i, relType, ErrCodec)
		}
		if len(row) != len(keys) {
			return nil, fmt.Errorf("link row %d: %d cells for %d keys: %w", i, len(row), len(keys), ErrCodec)
		}
		var source, target string
		props := Properties{}
		for j, k := range keys {
			switch k {
			case keyRelType:
				continue
			case keySource:
				if s, ok := row[j].(string); ok {
					source = s
				}
			case keyTarget:
				if s, ok := row[j].(string); ok {
					target = s
				}
			default:
				if row[j] != nil {
					props[k] = row[j]
				}
			}
		}
		if source == "" || target == "" {
			return nil, fmt.Errorf("link row %d: missing endpoints: %w", i, ErrCodec)
		}
		g.AddEdge(source, target, relType, props)
	}
	return g, nil
}

// MarshalCompressed encodes g in the compressed archive form.
func MarshalCompressed(g *Graph) ([]byte, error) {
	doc, err := Compress(g)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalCompressed decodes a compressed archive document into a graph.
func UnmarshalCompressed(data []byte) (*Graph, error) {
	var doc CompressedDoc
	if err := decodeStrictNumbers(data, &doc); err != nil {
		return nil, fmt.Errorf("decode compressed document: %v: %w", err, ErrCodec)
	}
	return Decompress(&doc)
}
