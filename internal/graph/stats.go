package graph

// Stats summarises a graph for the observability surface: totals plus
// per-type breakdowns keyed by node_type and relationship_type tags.
type Stats struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
}

// Stats computes counts broken down by type tag. Nodes without a node_type
// tag are counted under the empty string.
func (g *Graph) Stats() Stats {
	s := Stats{
		NodeCount:   g.NodeCount(),
		EdgeCount:   g.EdgeCount(),
		NodesByType: map[string]int{},
		EdgesByType: map[string]int{},
	}
	for _, props := range g.nodes {
		typ, _ := props[keyNodeType].(string)
		s.NodesByType[typ]++
	}
	for _, targets := range g.out {
		for _, e := range targets {
			s.EdgesByType[e.Type]++
		}
	}
	return s
}
