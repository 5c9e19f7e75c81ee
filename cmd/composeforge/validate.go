package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/emit"
	"github.com/compose-forge/composeforge/internal/validation"
)

// newValidateCmd creates the "validate" subcommand.
func newValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <compose-file>",
		Short: "Compile the compose file and lint the resulting template",
		Long: `Validate compiles the compose file, emits the template and runs
cfn-lint over it. Warnings are reported but do not fail validation.

Examples:
    composeforge validate compose.yaml
    composeforge validate compose.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the result as JSON")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, jsonOutput bool) error {
	out := composeforge.ValidateResult{Success: true}

	result, err := compileFile(cmd.Context(), path)
	if err != nil {
		return err
	}
	for _, warning := range result.Warnings {
		out.Warnings = append(out.Warnings, warning.String())
	}
	for _, compileErr := range result.Errors {
		out.Errors = append(out.Errors, compileErr.Error())
	}

	if result.OK() {
		template, err := (&emit.Builder{}).Build(result.Graph)
		if err != nil {
			return err
		}
		out.Resources = len(template.Resources)

		lintResult, err := validation.LintTemplate(template)
		if err != nil {
			return err
		}
		out.Errors = append(out.Errors, lintResult.Errors...)
		out.Warnings = append(out.Warnings, lintResult.Warnings...)
	}
	out.Success = len(out.Errors) == 0

	if jsonOutput {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for _, warning := range out.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
		}
		for _, msg := range out.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		if out.Success {
			fmt.Printf("valid: %d resources\n", out.Resources)
		}
	}

	if !out.Success {
		return fmt.Errorf("validation failed with %d error(s)", len(out.Errors))
	}
	return nil
}
