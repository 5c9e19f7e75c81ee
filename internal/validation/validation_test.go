package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lex00/cfn-lint-go/pkg/lint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	composeforge "github.com/compose-forge/composeforge"
)

func TestCfnLintResult_TotalIssues(t *testing.T) {
	tests := []struct {
		name     string
		result   CfnLintResult
		expected int
	}{
		{
			name:     "empty result",
			result:   CfnLintResult{},
			expected: 0,
		},
		{
			name: "errors only",
			result: CfnLintResult{
				Errors: []string{"error1", "error2"},
			},
			expected: 2,
		},
		{
			name: "mixed issues",
			result: CfnLintResult{
				Errors:        []string{"error1"},
				Warnings:      []string{"warning1", "warning2"},
				Informational: []string{"info1"},
			},
			expected: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.TotalIssues())
		})
	}
}

func TestFormatMatch(t *testing.T) {
	tests := []struct {
		name     string
		match    lint.Match
		expected string
	}{
		{
			name: "simple match",
			match: lint.Match{
				Rule:    lint.MatchRule{ID: "E1234"},
				Message: "Something is wrong",
			},
			expected: "E1234: Something is wrong",
		},
		{
			name: "match with path",
			match: lint.Match{
				Rule:    lint.MatchRule{ID: "W5678"},
				Message: "Warning message",
				Location: lint.MatchLocation{
					Path: []any{"Resources", "TgtApp01", "Properties"},
				},
			},
			expected: "W5678: Warning message (at Resources/TgtApp01/Properties)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatMatch(tt.match))
		})
	}
}

func TestLintFile_NotFound(t *testing.T) {
	result, err := LintFile("/nonexistent/template.json")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "template file not found")
}

func TestLintFile_ValidTemplate(t *testing.T) {
	templatePath := filepath.Join(t.TempDir(), "template.yaml")
	validTemplate := `AWSTemplateFormatVersion: '2010-09-09'
Description: Test template
Resources:
  JobsQueue:
    Type: AWS::SQS::Queue
    Properties:
      QueueName: jobs
`
	require.NoError(t, os.WriteFile(templatePath, []byte(validTemplate), 0o644))

	result, err := LintFile(templatePath)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestLintTemplate(t *testing.T) {
	template := &composeforge.Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Resources: map[string]composeforge.ResourceDef{
			"JobsQueue": {
				Type:       "AWS::SQS::Queue",
				Properties: map[string]any{"QueueName": "jobs"},
			},
		},
	}

	result, err := LintTemplate(template)
	require.NoError(t, err)
	assert.NotNil(t, result)
}
