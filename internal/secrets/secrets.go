// Package secrets compiles x-secrets declarations into per-service secret
// bindings backed by AWS Secrets Manager.
package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/resolver"
)

// Compiler resolves secret references and expands them into bindings.
type Compiler struct {
	resolver *resolver.Resolver
}

// New creates a secrets compiler on top of the given resolver.
func New(r *resolver.Resolver) *Compiler {
	return &Compiler{resolver: r}
}

// SymbolicRef maps a secret declaration onto the resolver contract. A Name
// that is already an ARN passes through as a literal; a plain name becomes
// a tag lookup on the Name tag. Exactly-one enforcement happens in the
// resolver.
func SymbolicRef(secretName string, def *composeforge.SecretDef) resolver.SymbolicRef {
	ref := resolver.SymbolicRef{
		Kind: resolver.KindSecret,
		Path: "secrets." + secretName,
	}
	switch {
	case strings.HasPrefix(def.Name, "arn:"):
		ref.ID = def.Name
	case def.Name != "":
		ref.Lookup = map[string]string{"Name": def.Name}
	}
	if def.Lookup != nil {
		ref.Lookup = def.Lookup
	}
	return ref
}

// CollectRefs returns the symbolic references of all declared secrets so
// the caller can warm the resolver cache in one batch.
func CollectRefs(secrets map[string]*composeforge.SecretDef) []resolver.SymbolicRef {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	refs := make([]resolver.SymbolicRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, SymbolicRef(name, secrets[name]))
	}
	return refs
}

// Compile resolves one secret and expands it into bindings for each
// consuming service. Without JsonKeys the whole secret value is bound
// under the compose secret name; with JsonKeys each key becomes its own
// binding using the ECS json-key selector suffix.
func (c *Compiler) Compile(ctx context.Context, secretName string, def *composeforge.SecretDef, services []string) ([]composeforge.SecretBinding, error) {
	path := "secrets." + secretName

	if def.Name != "" && def.Lookup != nil {
		return nil, composeforge.Validationf(path, "Name and Lookup are mutually exclusive")
	}
	if def.Name == "" && def.Lookup == nil {
		return nil, composeforge.Validationf(path, "one of Name or Lookup is required")
	}

	arn, err := c.resolver.Resolve(ctx, SymbolicRef(secretName, def))
	if err != nil {
		return nil, err
	}

	sorted := append([]string(nil), services...)
	sort.Strings(sorted)

	var bindings []composeforge.SecretBinding
	for _, service := range sorted {
		if len(def.JsonKeys) == 0 {
			bindings = append(bindings, composeforge.SecretBinding{
				Service:   service,
				Secret:    secretName,
				VarName:   secretName,
				ValueFrom: arn,
			})
			continue
		}
		for _, key := range def.JsonKeys {
			if key.SecretKey == "" {
				return nil, composeforge.Validationf(path, "JsonKeys entries require SecretKey")
			}
			varName := key.VarName
			if varName == "" {
				varName = key.SecretKey
			}
			bindings = append(bindings, composeforge.SecretBinding{
				Service:   service,
				Secret:    secretName,
				VarName:   varName,
				ValueFrom: fmt.Sprintf("%s:%s::", arn, key.SecretKey),
			})
		}
	}
	return bindings, nil
}
