// Command composeforge compiles extended docker-compose files into AWS
// CloudFormation resource templates.
//
// Usage:
//
//	composeforge build compose.yaml       Generate a CloudFormation template
//	composeforge validate compose.yaml    Compile and lint the template
//	composeforge graph compose.yaml       Export the dependency graph
//	composeforge watch compose.yaml       Rebuild on file changes
//	composeforge version                  Show version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "composeforge",
		Short: "Compile docker-compose extensions to CloudFormation",
		Long: `composeforge compiles extended docker-compose files into AWS
CloudFormation resource templates.

Annotate your compose file with the x-network, x-elbv2, x-secrets,
x-dynamodb and x-sqs extensions, then generate a template:

    composeforge build compose.yaml`,
	}

	rootCmd.AddCommand(
		newBuildCmd(),
		newValidateCmd(),
		newGraphCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("composeforge %s\n", getVersion())
		},
	}
}
