// Package validation lints emitted templates with cfn-lint-go.
//
// The linter runs as a library dependency for guaranteed version control;
// nothing shells out.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lex00/cfn-lint-go/pkg/lint"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/emit"
)

// CfnLintResult contains the result of running cfn-lint on a template.
type CfnLintResult struct {
	Passed        bool     `json:"passed"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Informational []string `json:"informational"`
}

// TotalIssues returns the total number of issues found.
func (r CfnLintResult) TotalIssues() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Informational)
}

// LintTemplate serializes the template to a temporary file and lints it.
func LintTemplate(template *composeforge.Template) (*CfnLintResult, error) {
	data, err := emit.ToJSON(template)
	if err != nil {
		return nil, fmt.Errorf("serializing template: %w", err)
	}

	dir, err := os.MkdirTemp("", "composeforge-lint")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "template.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing template: %w", err)
	}
	return LintFile(path)
}

// LintFile runs cfn-lint-go on a template file.
func LintFile(path string) (*CfnLintResult, error) {
	if _, err := os.Stat(path); err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("template file not found: %s", path)},
		}, nil
	}

	linter := lint.New(lint.Options{})
	matches, err := linter.LintFile(path)
	if err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("linter error: %v", err)},
		}, nil
	}

	result := &CfnLintResult{
		Errors:        []string{},
		Warnings:      []string{},
		Informational: []string{},
	}

	for _, match := range matches {
		formatted := formatMatch(match)
		switch match.Level {
		case "Error":
			result.Errors = append(result.Errors, formatted)
		case "Warning":
			result.Warnings = append(result.Warnings, formatted)
		default:
			result.Informational = append(result.Informational, formatted)
		}
	}

	// Warnings are acceptable; only errors fail validation.
	result.Passed = len(result.Errors) == 0
	return result, nil
}

// formatMatch formats a cfn-lint-go match for display.
func formatMatch(match lint.Match) string {
	if len(match.Location.Path) > 0 {
		parts := make([]string, len(match.Location.Path))
		for i, p := range match.Location.Path {
			parts[i] = fmt.Sprintf("%v", p)
		}
		return fmt.Sprintf("%s: %s (at %s)", match.Rule.ID, match.Message, strings.Join(parts, "/"))
	}
	return fmt.Sprintf("%s: %s", match.Rule.ID, match.Message)
}
