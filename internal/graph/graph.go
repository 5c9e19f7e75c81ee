// Package graph assembles compiled resources into a directed dependency
// graph, checks it for cycles, prunes unused declarations and exposes a
// deterministic topological order for emission.
package graph

import (
	"sort"
	"strings"

	composeforge "github.com/compose-forge/composeforge"
)

// Kind classifies graph nodes.
type Kind string

const (
	KindService      Kind = "Service"
	KindSecurityRule Kind = "SecurityRule"
	KindTargetGroup  Kind = "TargetGroup"
	KindListener     Kind = "Listener"
	KindLoadBalancer Kind = "LoadBalancer"
	KindIAMPolicy    Kind = "IAMPolicy"
	KindSecret       Kind = "Secret"
)

// NodeID is the unique node identity: kind plus logical name.
type NodeID struct {
	Kind Kind
	Name string
}

func (id NodeID) String() string { return string(id.Kind) + "/" + id.Name }

// Node is one compiled resource in the graph.
type Node struct {
	ID       NodeID
	Resource any
}

// Graph is the finalized resource graph. Once built it is immutable and
// consumed exactly once by the emitter.
type Graph struct {
	nodes map[NodeID]*Node
	// edges[from] lists the nodes from depends on.
	edges map[NodeID][]NodeID
}

// Builder accumulates nodes and depends-on edges before finalizing.
type Builder struct {
	graph *Graph
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{graph: &Graph{
		nodes: make(map[NodeID]*Node),
		edges: make(map[NodeID][]NodeID),
	}}
}

// AddNode registers a resource. Adding the same identity twice keeps the
// first resource.
func (b *Builder) AddNode(kind Kind, name string, resource any) NodeID {
	id := NodeID{Kind: kind, Name: name}
	if _, exists := b.graph.nodes[id]; !exists {
		b.graph.nodes[id] = &Node{ID: id, Resource: resource}
	}
	return id
}

// AddEdge records that from depends on to.
func (b *Builder) AddEdge(from, to NodeID) {
	b.graph.edges[from] = append(b.graph.edges[from], to)
}

// Finalize validates the accumulated graph: it must be acyclic. Cross
// references are user supplied, so a cycle cannot be assumed away and is
// a fatal conflict. Disconnected non-service nodes are pruned with a
// warning rather than rejected.
func (b *Builder) Finalize() (*Graph, []composeforge.Warning, error) {
	g := b.graph

	if cycle := g.findCycle(); len(cycle) > 0 {
		names := make([]string, len(cycle))
		for i, id := range cycle {
			names[i] = id.String()
		}
		return nil, nil, &composeforge.ConflictError{
			Path:    names[0],
			Message: "circular dependency: " + strings.Join(names, " -> "),
		}
	}

	warnings := g.pruneDisconnected()
	return g, warnings, nil
}

// Nodes returns all nodes sorted by identity.
func (g *Graph) Nodes() []*Node {
	ids := g.sortedIDs()
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// Node returns the node with the given identity, or nil.
func (g *Graph) Node(kind Kind, name string) *Node {
	return g.nodes[NodeID{Kind: kind, Name: name}]
}

// DependenciesOf returns the sorted, deduplicated identities the given
// node depends on.
func (g *Graph) DependenciesOf(id NodeID) []NodeID {
	deps := make([]NodeID, 0, len(g.edges[id]))
	seen := make(map[NodeID]bool)
	for _, dep := range g.edges[id] {
		if _, exists := g.nodes[dep]; !exists {
			continue
		}
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	sortIDs(deps)
	return deps
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// TopologicalOrder returns node identities such that every node appears
// after all of its dependencies. Kahn's algorithm with a sorted queue
// keeps the order deterministic.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	dependents := make(map[NodeID][]NodeID)
	inDegree := make(map[NodeID]int)

	for id := range g.nodes {
		inDegree[id] = 0
	}
	for from, tos := range g.edges {
		if _, exists := g.nodes[from]; !exists {
			continue
		}
		for _, to := range tos {
			if _, exists := g.nodes[to]; !exists {
				continue
			}
			dependents[to] = append(dependents[to], from)
			inDegree[from]++
		}
	}

	var queue []NodeID
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sortIDs(queue)

	var order []NodeID
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
				sortIDs(queue)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &composeforge.ConflictError{Path: "graph", Message: "circular dependency detected"}
	}
	return order, nil
}

// findCycle runs a DFS over the depends-on edges and returns the first
// cycle found, empty when the graph is acyclic.
func (g *Graph) findCycle() []NodeID {
	visited := make(map[NodeID]bool)
	onPath := make(map[NodeID]bool)

	var cycle []NodeID
	var walk func(id NodeID) bool
	walk = func(id NodeID) bool {
		visited[id] = true
		onPath[id] = true

		for _, dep := range g.edges[id] {
			if _, exists := g.nodes[dep]; !exists {
				continue
			}
			if !visited[dep] {
				if walk(dep) {
					cycle = append([]NodeID{id}, cycle...)
					return true
				}
			} else if onPath[dep] {
				cycle = append([]NodeID{dep, id}, cycle...)
				return true
			}
		}

		onPath[id] = false
		return false
	}

	for _, id := range g.sortedIDs() {
		if !visited[id] {
			if walk(id) {
				return cycle
			}
		}
	}
	return nil
}

// pruneDisconnected drops nodes with no edges in either direction, unless
// they are service roots. Each pruned node is a warning.
func (g *Graph) pruneDisconnected() []composeforge.Warning {
	hasIncoming := make(map[NodeID]bool)
	for from, tos := range g.edges {
		if _, exists := g.nodes[from]; !exists {
			continue
		}
		for _, to := range tos {
			hasIncoming[to] = true
		}
	}

	var warnings []composeforge.Warning
	for _, id := range g.sortedIDs() {
		if id.Kind == KindService {
			continue
		}
		if len(g.edges[id]) == 0 && !hasIncoming[id] {
			delete(g.nodes, id)
			warnings = append(warnings, composeforge.Warning{
				Code:    composeforge.WarnUnusedResource,
				Path:    id.String(),
				Message: "declared resource is referenced by nothing and was pruned",
			})
		}
	}
	return warnings
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
