package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/compose-forge/composeforge/internal/graph"
)

// newGraphCmd creates the "graph" subcommand.
func newGraphCmd() *cobra.Command {
	var (
		format  string
		cluster bool
	)

	cmd := &cobra.Command{
		Use:   "graph <compose-file>",
		Short: "Export the resource dependency graph",
		Long: `Graph compiles the compose file and exports its dependency graph.

Examples:
    composeforge graph compose.yaml
    composeforge graph compose.yaml -f mermaid
    composeforge graph compose.yaml --cluster`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := compileFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !result.OK() {
				for _, compileErr := range result.Errors {
					fmt.Fprintf(os.Stderr, "error: %v\n", compileErr)
				}
				return fmt.Errorf("compilation failed with %d error(s)", len(result.Errors))
			}

			exporter := &graph.Exporter{
				Format:        graph.Format(format),
				ClusterByKind: cluster,
			}
			return exporter.Export(result.Graph, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "dot", "Output format: dot or mermaid")
	cmd.Flags().BoolVar(&cluster, "cluster", false, "Group nodes by resource kind")

	return cmd
}
