package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/awslookup"
	"github.com/compose-forge/composeforge/internal/compiler"
	"github.com/compose-forge/composeforge/internal/emit"
	"github.com/compose-forge/composeforge/internal/loader"
	"github.com/compose-forge/composeforge/internal/resolver"
)

// newBuildCmd creates the "build" subcommand.
func newBuildCmd() *cobra.Command {
	var (
		outputFormat string
		outputFile   string
		description  string
	)

	cmd := &cobra.Command{
		Use:   "build <compose-file>",
		Short: "Compile a compose file to a CloudFormation template",
		Long: `Build compiles the compose file and its extensions into a
CloudFormation template.

Tag-based Lookup references are resolved against the AWS account of the
active credentials.

Examples:
    composeforge build compose.yaml
    composeforge build compose.yaml -f yaml -o stack.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), args[0], buildOptions{
				outputFormat: outputFormat,
				outputFile:   outputFile,
				description:  description,
			})
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&description, "description", "", "Template description")

	return cmd
}

type buildOptions struct {
	outputFormat string
	outputFile   string
	description  string
}

func runBuild(ctx context.Context, path string, opts buildOptions) error {
	result, err := compileFile(ctx, path)
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	if !result.OK() {
		for _, compileErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %v\n", compileErr)
		}
		return fmt.Errorf("compilation failed with %d error(s)", len(result.Errors))
	}

	template, err := (&emit.Builder{Description: opts.description}).Build(result.Graph)
	if err != nil {
		return err
	}

	var data []byte
	switch opts.outputFormat {
	case "json":
		data, err = emit.ToJSON(template)
	case "yaml":
		data, err = emit.ToYAML(template)
	default:
		return fmt.Errorf("unknown format: %s", opts.outputFormat)
	}
	if err != nil {
		return err
	}

	if opts.outputFile == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(opts.outputFile, data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d resources)\n", opts.outputFile, len(template.Resources))
	return nil
}

// compileFile loads a compose file and compiles it, resolving lookups
// against AWS.
func compileFile(ctx context.Context, path string) (*compiler.Result, error) {
	doc, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	lookup, err := newLookupService(ctx, doc)
	if err != nil {
		return nil, err
	}
	return compiler.New(lookup).Compile(ctx, doc), nil
}

// newLookupService builds the AWS-backed lookup service. Documents that
// never use Lookup criteria compile without credentials.
func newLookupService(ctx context.Context, doc *composeforge.ComposeDocument) (resolver.LookupService, error) {
	if !usesLookups(doc) {
		return noLookups{}, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return awslookup.New(cfg), nil
}

// noLookups serves documents with literal references only.
type noLookups struct{}

func (noLookups) Lookup(context.Context, resolver.RefKind, map[string]string) ([]string, error) {
	return nil, fmt.Errorf("no AWS credentials configured for tag lookups")
}

// usesLookups reports whether any reference in the document needs a tag
// lookup.
func usesLookups(doc *composeforge.ComposeDocument) bool {
	blocks := make([]*composeforge.IngressBlock, 0, len(doc.Services)+len(doc.LoadBalancers))
	for _, svc := range doc.Services {
		if svc.Network != nil {
			blocks = append(blocks, svc.Network.Ingress)
		}
	}
	for _, lb := range doc.LoadBalancers {
		blocks = append(blocks, lb.Ingress)
		for _, listener := range lb.Listeners {
			for _, cert := range listener.Certificates {
				if cert.ACM != "" {
					return true
				}
			}
		}
	}
	for _, block := range blocks {
		if block == nil {
			continue
		}
		for _, src := range block.AwsSources {
			if len(src.Lookup) > 0 {
				return true
			}
		}
	}
	for _, secret := range doc.Secrets {
		if secretNeedsLookup(secret) {
			return true
		}
	}
	for _, db := range doc.Databases {
		if len(db.SecurityGroup.Lookup) > 0 {
			return true
		}
		if db.Secret != nil && secretNeedsLookup(db.Secret) {
			return true
		}
	}
	return false
}

func secretNeedsLookup(secret *composeforge.SecretDef) bool {
	return len(secret.Lookup) > 0 || (secret.Name != "" && !strings.HasPrefix(secret.Name, "arn:"))
}
