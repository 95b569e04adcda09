// Package dag validates the dependency graph formed by Dependent manifests
// pointing at their parent manifest. A manifest chain must form a forest,
// never a cycle, or ManifestManager would never be able to order dispatch.
package dag

import "fmt"

// CycleError reports a cycle discovered during validation, naming one node
// on the cycle so callers can produce an actionable message.
type CycleError struct {
	Node string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: cycle detected involving node %q", e.Node)
}

// Graph is an adjacency list keyed by node ID, edge->parent direction:
// Edges[child] = parent. A nil or empty parent entry means the node is a
// root (ScheduleType != Dependent, or a Dependent manifest with no parent
// yet resolved).
type Graph struct {
	edges map[string]string // child -> parent
	nodes map[string]struct{}
}

// NewGraph builds a Graph from a child->parent map. Every value that is
// itself a key is treated as an internal node; values with no
// corresponding key are leaf parents (roots) that still participate in
// cycle detection.
func NewGraph(childToParent map[string]string) *Graph {
	g := &Graph{
		edges: make(map[string]string, len(childToParent)),
		nodes: make(map[string]struct{}, len(childToParent)),
	}
	for child, parent := range childToParent {
		g.edges[child] = parent
		g.nodes[child] = struct{}{}
		if parent != "" {
			g.nodes[parent] = struct{}{}
		}
	}
	return g
}

// Validate runs Kahn's algorithm over the graph and returns a CycleError if
// any node cannot be reduced to in-degree zero, along with a topological
// order (parents before children) when the graph is acyclic.
func (g *Graph) Validate() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	children := make(map[string][]string, len(g.nodes))

	for node := range g.nodes {
		inDegree[node] = 0
	}
	for child, parent := range g.edges {
		if parent == "" {
			continue
		}
		inDegree[child]++
		children[parent] = append(children[parent], child)
	}

	queue := make([]string, 0, len(g.nodes))
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, child := range children[n] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(g.nodes) {
		for node, deg := range inDegree {
			if deg > 0 {
				return nil, &CycleError{Node: node}
			}
		}
		return nil, &CycleError{Node: "unknown"}
	}

	return order, nil
}

// WouldCycle reports whether adding an edge from child to parent would
// introduce a cycle into an otherwise-valid existing graph, without
// mutating it. Used by the manifest scheduler to reject a Dependent
// manifest upsert before it is persisted.
func WouldCycle(existing map[string]string, child, parent string) bool {
	if child == parent {
		return true
	}
	merged := make(map[string]string, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged[child] = parent

	g := NewGraph(merged)
	_, err := g.Validate()
	return err != nil
}
