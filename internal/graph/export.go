package graph

import (
	"io"
	"strings"

	"github.com/emicklei/dot"
)

// Format specifies the output format for the graph export.
type Format string

const (
	// FormatDOT outputs Graphviz DOT format.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid format for GitHub/markdown rendering.
	FormatMermaid Format = "mermaid"
)

// Exporter renders a finalized resource graph for inspection.
type Exporter struct {
	// Format specifies the output format (dot or mermaid). Defaults to dot.
	Format Format

	// ClusterByKind groups nodes by their resource kind.
	ClusterByKind bool
}

// Export renders the graph and writes it to w.
func (e *Exporter) Export(g *Graph, w io.Writer) error {
	rendered := e.buildGraph(g)

	format := e.Format
	if format == "" {
		format = FormatDOT
	}

	var output string
	if format == FormatMermaid {
		output = dot.MermaidGraph(rendered, dot.MermaidTopToBottom)
	} else {
		output = rendered.String()
	}

	_, err := w.Write([]byte(output))
	return err
}

// ExportString is a convenience method that returns the rendered graph.
func (e *Exporter) ExportString(g *Graph) (string, error) {
	var sb strings.Builder
	if err := e.Export(g, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (e *Exporter) buildGraph(g *Graph) *dot.Graph {
	rendered := dot.NewGraph(dot.Directed)
	rendered.Attr("rankdir", "TB")

	rendered.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})
	rendered.EdgeInitializer(func(edge dot.Edge) {
		edge.Attr("fontname", "Arial")
		edge.Attr("fontsize", "10")
	})

	if e.ClusterByKind {
		e.addClusteredNodes(rendered, g)
	} else {
		e.addNodes(rendered, g)
	}

	for _, node := range g.Nodes() {
		from := rendered.Node(node.ID.String())
		for _, dep := range g.DependenciesOf(node.ID) {
			to := rendered.Node(dep.String())
			rendered.Edge(from, to)
		}
	}

	return rendered
}

func (e *Exporter) addNodes(rendered *dot.Graph, g *Graph) {
	for _, node := range g.Nodes() {
		n := rendered.Node(node.ID.String())
		n.Label(node.ID.Name + "\\n[" + string(node.ID.Kind) + "]")
	}
}

func (e *Exporter) addClusteredNodes(rendered *dot.Graph, g *Graph) {
	byKind := make(map[Kind][]*Node)
	var kinds []Kind
	for _, node := range g.Nodes() {
		if _, seen := byKind[node.ID.Kind]; !seen {
			kinds = append(kinds, node.ID.Kind)
		}
		byKind[node.ID.Kind] = append(byKind[node.ID.Kind], node)
	}

	for _, kind := range kinds {
		nodes := byKind[kind]
		if len(nodes) > 1 {
			cluster := rendered.Subgraph("cluster_"+string(kind), dot.ClusterOption{})
			cluster.Attr("label", string(kind))
			cluster.Attr("style", "rounded")
			cluster.Attr("bgcolor", "lightyellow")
			for _, node := range nodes {
				n := cluster.Node(node.ID.String())
				n.Label(node.ID.Name + "\\n[" + string(kind) + "]")
			}
		} else {
			for _, node := range nodes {
				n := rendered.Node(node.ID.String())
				n.Label(node.ID.Name + "\\n[" + string(kind) + "]")
			}
		}
	}
}
