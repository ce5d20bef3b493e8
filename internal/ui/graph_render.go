package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/untoldecay/graphtwin/internal/graph"
)

// nodeLabel formats a node for tree display: the id plus a muted node_type
// annotation when the node carries one.
func nodeLabel(g *graph.Graph, id string) string {
	if props, ok := g.NodeProps(id); ok {
		if typ, ok := props["node_type"].(string); ok && typ != "" {
			return fmt.Sprintf("%s %s", id, MutedStyle.Render("("+typ+")"))
		}
	}
	return id
}

// BuildGraphTree constructs a lipgloss/tree for a graph, rooted at the given
// label (usually the version name). Top-level children are the nodes with no
// incoming edges; a node reachable from several parents is expanded only the
// first time and shown as a plain leaf afterwards.
func BuildGraphTree(g *graph.Graph, root string) *tree.Tree {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return nil
	}

	// Edges() is ordered by (source, target), so child lists come out sorted.
	children := make(map[string][]string)
	indegree := make(map[string]int)
	for _, e := range g.Edges() {
		children[e.Source] = append(children[e.Source], e.Target)
		indegree[e.Target]++
	}

	t := tree.New().Root(root)
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
	t.RootStyle(lipgloss.NewStyle().Bold(true).Foreground(ColorAccent))

	seen := make(map[string]bool)
	for _, id := range nodes {
		if indegree[id] == 0 {
			t.Child(buildSubtree(g, children, seen, id))
		}
	}

	// Cycles have no zero-indegree entry point; give any node not reached
	// from a root its own top-level branch so nothing disappears.
	for _, id := range nodes {
		if !seen[id] {
			t.Child(buildSubtree(g, children, seen, id))
		}
	}

	return t
}

func buildSubtree(g *graph.Graph, children map[string][]string, seen map[string]bool, id string) *tree.Tree {
	node := tree.New().Root(nodeLabel(g, id))
	node.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
	if seen[id] {
		return node
	}
	seen[id] = true
	for _, kid := range children[id] {
		node.Child(buildSubtree(g, children, seen, kid))
	}
	return node
}

// RenderGraphTree renders a graph as a tree using lipgloss/tree
func RenderGraphTree(g *graph.Graph, root string) string {
	t := BuildGraphTree(g, root)
	if t == nil {
		return TableHintStyle.Render("Empty graph.")
	}
	return t.String()
}
