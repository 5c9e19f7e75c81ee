// Package rds wires services to existing RDS databases. Each consuming
// service gets the database credentials bound into its environment and an
// ingress rule into the database security group on the database port.
//
// The databases themselves are never created; x-rds always points at an
// existing one, by literal security group ID or by tag lookup.
package rds

import (
	"context"
	"fmt"
	"sort"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/resolver"
	"github.com/compose-forge/composeforge/internal/secrets"
)

// Compiled is the output for one database: ingress rules opening the
// database security group to each consumer, and the secret bindings when
// the database declares credentials.
type Compiled struct {
	Rules    []composeforge.IngressRule
	Bindings []composeforge.SecretBinding
}

// Compiler compiles x-rds entries, resolving the database security group
// and credentials through the shared resolver.
type Compiler struct {
	resolver *resolver.Resolver
	secrets  *secrets.Compiler
}

// New creates an rds Compiler.
func New(r *resolver.Resolver, s *secrets.Compiler) *Compiler {
	return &Compiler{resolver: r, secrets: s}
}

// CollectRefs returns the symbolic references a database needs resolved,
// so callers can warm the resolver cache in one concurrent batch.
func CollectRefs(db *composeforge.RdsDatabase) []resolver.SymbolicRef {
	refs := []resolver.SymbolicRef{securityGroupRef(db)}
	if db.Secret != nil {
		refs = append(refs, secrets.SymbolicRef(db.Name, db.Secret))
	}
	return refs
}

func securityGroupRef(db *composeforge.RdsDatabase) resolver.SymbolicRef {
	return resolver.SymbolicRef{
		Kind:   resolver.KindSecurityGroup,
		Path:   "x-rds." + db.Name + ".SecurityGroup",
		ID:     db.SecurityGroup.ID,
		Lookup: db.SecurityGroup.Lookup,
	}
}

// Compile resolves the database security group and expands one ingress
// rule per consuming service, in stable order. The rules carry the
// concrete group ID as owner; the source references each service security
// group compiled into the template.
func (c *Compiler) Compile(ctx context.Context, db *composeforge.RdsDatabase) (*Compiled, error) {
	path := "x-rds." + db.Name

	if db.Port <= 0 || db.Port > 65535 {
		return nil, composeforge.Validationf(path, "Port must be 1-65535, got %d", db.Port)
	}
	if len(db.Services) == 0 {
		return nil, composeforge.Validationf(path, "at least one Services entry is required")
	}

	groupID, err := c.resolver.Resolve(ctx, securityGroupRef(db))
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(db.Services))
	for _, svc := range db.Services {
		names = append(names, svc.Name)
	}
	sort.Strings(names)

	out := &Compiled{}
	for _, name := range names {
		out.Rules = append(out.Rules, composeforge.IngressRule{
			Owner:       db.Name,
			GroupID:     groupID,
			Source:      composeforge.IngressSource{Kind: composeforge.SourceService, ServiceName: name},
			Protocol:    "tcp",
			FromPort:    db.Port,
			ToPort:      db.Port,
			Description: fmt.Sprintf("From %s to %s", name, db.Name),
		})
	}

	if db.Secret != nil {
		bindings, err := c.secrets.Compile(ctx, db.Name, db.Secret, names)
		if err != nil {
			return nil, err
		}
		out.Bindings = bindings
	}
	return out, nil
}
