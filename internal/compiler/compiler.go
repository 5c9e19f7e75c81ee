// Package compiler orchestrates a full compilation run: it walks the
// compose document, drives the per-concern compilers, and assembles their
// output into a finalized dependency graph.
//
// Compilation is best effort. A failing resource is reported and skipped;
// every other resource still compiles, so one run surfaces as many
// findings as possible.
package compiler

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/attributes"
	"github.com/compose-forge/composeforge/internal/elbv2"
	"github.com/compose-forge/composeforge/internal/graph"
	"github.com/compose-forge/composeforge/internal/iam"
	"github.com/compose-forge/composeforge/internal/ingress"
	"github.com/compose-forge/composeforge/internal/rds"
	"github.com/compose-forge/composeforge/internal/resolver"
	"github.com/compose-forge/composeforge/internal/secrets"
)

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Result is the outcome of one compilation run. Errors holds every finding
// from skipped resources; the graph covers everything that did compile.
type Result struct {
	Graph    *graph.Graph
	Warnings []composeforge.Warning
	Errors   []error
}

// OK reports whether the run produced no errors.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Compiler drives a compilation run over one document.
type Compiler struct {
	resolver *resolver.Resolver
	ingress  *ingress.Compiler
	secrets  *secrets.Compiler
	rds      *rds.Compiler
	norm     *attributes.Normalizer
}

// New creates a compiler backed by the given lookup capability.
func New(lookup resolver.LookupService) *Compiler {
	r := resolver.New(lookup)
	s := secrets.New(r)
	return &Compiler{
		resolver: r,
		ingress:  ingress.New(r),
		secrets:  s,
		rds:      rds.New(r, s),
		norm:     attributes.New(attributes.TargetGroupPolicy()),
	}
}

// Compile runs the full pipeline: prefetch lookups, compile each concern,
// assemble and finalize the graph.
func (c *Compiler) Compile(ctx context.Context, doc *composeforge.ComposeDocument) *Result {
	result := &Result{}
	b := graph.NewBuilder()

	c.prefetch(ctx, doc)

	serviceIDs := c.compileServices(ctx, doc, b, result)
	targetGroups := c.compileLoadBalancers(ctx, doc, b, serviceIDs, result)
	c.compileListeners(ctx, doc, b, targetGroups, result)
	c.compileSecrets(ctx, doc, b, serviceIDs, result)
	c.compileDatabases(ctx, doc, b, serviceIDs, result)
	c.compileSharedResources(doc, b, serviceIDs, result)

	g, warnings, err := b.Finalize()
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}
	result.Graph = g
	result.Warnings = append(result.Warnings, warnings...)
	return result
}

// prefetch warms the resolver cache with every lookup the document will
// need, fanned out concurrently. Failures are ignored here; the owning
// resource reports them with full context during its own compilation.
func (c *Compiler) prefetch(ctx context.Context, doc *composeforge.ComposeDocument) {
	var refs []resolver.SymbolicRef

	for _, name := range sortedKeys(doc.Services) {
		svc := doc.Services[name]
		if svc.Network != nil {
			refs = append(refs, ingress.CollectRefs(svc.Network.Ingress, "services."+name+".x-network.Ingress")...)
		}
	}
	for _, name := range sortedKeys(doc.LoadBalancers) {
		lb := doc.LoadBalancers[name]
		refs = append(refs, ingress.CollectRefs(lb.Ingress, "x-elbv2."+name+".Ingress")...)
	}
	refs = append(refs, secrets.CollectRefs(doc.Secrets)...)
	for _, db := range doc.Databases {
		refs = append(refs, rds.CollectRefs(db)...)
	}

	_, _ = c.resolver.ResolveAll(ctx, refs)
}

func (c *Compiler) compileServices(ctx context.Context, doc *composeforge.ComposeDocument, b *graph.Builder, result *Result) map[string]graph.NodeID {
	serviceIDs := make(map[string]graph.NodeID, len(doc.Services))

	for _, name := range sortedKeys(doc.Services) {
		svc := doc.Services[name]
		id := b.AddNode(graph.KindService, name, svc)
		serviceIDs[name] = id

		if svc.Network == nil || svc.Network.Ingress == nil {
			continue
		}
		owner := ingress.Owner{
			Name:  name,
			Path:  "services." + name + ".x-network.Ingress",
			Ports: svc.Ports,
		}
		rules, warnings, errs := c.ingress.Compile(ctx, svc.Network.Ingress, owner)
		result.Warnings = append(result.Warnings, warnings...)
		result.Errors = append(result.Errors, errs...)
		addRuleNodes(b, id, name, rules)
	}
	return serviceIDs
}

func (c *Compiler) compileLoadBalancers(ctx context.Context, doc *composeforge.ComposeDocument, b *graph.Builder, serviceIDs map[string]graph.NodeID, result *Result) map[string][]*composeforge.TargetGroup {
	targetGroups := make(map[string][]*composeforge.TargetGroup)

	for _, name := range sortedKeys(doc.LoadBalancers) {
		lb := doc.LoadBalancers[name]
		lbID := b.AddNode(graph.KindLoadBalancer, name, lb)

		if lb.Ingress != nil {
			owner := ingress.Owner{
				Name:   name,
				Path:   "x-elbv2." + name + ".Ingress",
				Ports:  listenerPorts(lb),
				LBType: lb.Type,
			}
			rules, warnings, errs := c.ingress.Compile(ctx, lb.Ingress, owner)
			result.Warnings = append(result.Warnings, warnings...)
			result.Errors = append(result.Errors, errs...)
			addRuleNodes(b, lbID, name, rules)
		}

		for _, def := range lb.Services {
			path := fmt.Sprintf("x-elbv2.%s.Services.%s", name, def.Name)
			_, serviceName := elbv2.ParseTargetName(def.Name)
			svc, ok := doc.Services[serviceName]
			if !ok {
				result.Errors = append(result.Errors,
					composeforge.Validationf(path, "service %q is not declared", serviceName))
				continue
			}

			tg, warnings, err := elbv2.CompileTargetGroup(lb, def, svc, c.norm)
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Warnings = append(result.Warnings, warnings...)
			targetGroups[name] = append(targetGroups[name], tg)

			tgID := b.AddNode(graph.KindTargetGroup, tg.Name, tg)
			b.AddEdge(tgID, serviceIDs[serviceName])
		}
	}
	return targetGroups
}

func (c *Compiler) compileListeners(ctx context.Context, doc *composeforge.ComposeDocument, b *graph.Builder, targetGroups map[string][]*composeforge.TargetGroup, result *Result) {
	for _, name := range sortedKeys(doc.LoadBalancers) {
		lb := doc.LoadBalancers[name]
		lbID := graph.NodeID{Kind: graph.KindLoadBalancer, Name: name}

		for _, def := range lb.Listeners {
			listener, err := c.compileListener(ctx, lb, def, targetGroups[name])
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}

			listenerID := b.AddNode(graph.KindListener, listener.Name, listener)
			b.AddEdge(listenerID, lbID)
			for _, rule := range listener.Rules {
				b.AddEdge(listenerID, graph.NodeID{Kind: graph.KindTargetGroup, Name: rule.TargetGroup})
			}
		}
	}
}

func (c *Compiler) compileListener(ctx context.Context, lb *composeforge.LoadBalancerSpec, def *composeforge.ListenerDef, targetGroups []*composeforge.TargetGroup) (*composeforge.Listener, error) {
	build := elbv2.NewListenerBuild(lb, def)
	if err := build.ResolveTargets(targetGroups); err != nil {
		return nil, err
	}
	if err := build.CompileConditions(); err != nil {
		return nil, err
	}
	listener, err := build.Finalize(ctx, c.resolver)
	if err != nil {
		return nil, err
	}
	elbv2.SortRules(listener.Rules)
	return listener, nil
}

func (c *Compiler) compileSecrets(ctx context.Context, doc *composeforge.ComposeDocument, b *graph.Builder, serviceIDs map[string]graph.NodeID, result *Result) {
	for _, name := range sortedKeys(doc.Secrets) {
		def := doc.Secrets[name]

		var consumers []string
		for _, serviceName := range sortedKeys(doc.Services) {
			for _, ref := range doc.Services[serviceName].Secrets {
				if ref == name {
					consumers = append(consumers, serviceName)
					break
				}
			}
		}

		if len(consumers) == 0 {
			// Unconsumed secrets are never resolved; the graph prunes
			// them with a warning.
			b.AddNode(graph.KindSecret, name, def)
			continue
		}

		bindings, err := c.secrets.Compile(ctx, name, def, consumers)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		secretID := b.AddNode(graph.KindSecret, name, bindings)
		for _, consumer := range consumers {
			b.AddEdge(serviceIDs[consumer], secretID)
		}
	}
}

func (c *Compiler) compileDatabases(ctx context.Context, doc *composeforge.ComposeDocument, b *graph.Builder, serviceIDs map[string]graph.NodeID, result *Result) {
	for _, db := range doc.Databases {
		path := "x-rds." + db.Name

		unknown := false
		for _, grant := range db.Services {
			if _, ok := serviceIDs[grant.Name]; !ok {
				result.Errors = append(result.Errors,
					composeforge.Validationf(path, "service %q is not declared", grant.Name))
				unknown = true
			}
		}
		if unknown {
			continue
		}

		compiled, err := c.rds.Compile(ctx, db)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		for i := range compiled.Rules {
			rule := compiled.Rules[i]
			name := fmt.Sprintf("%sIngress%d", nonAlphaNum.ReplaceAllString(db.Name, ""), i)
			ruleID := b.AddNode(graph.KindSecurityRule, name, &rule)
			b.AddEdge(ruleID, serviceIDs[rule.Source.ServiceName])
		}

		if len(compiled.Bindings) > 0 {
			secretID := b.AddNode(graph.KindSecret, db.Name, compiled.Bindings)
			for i := range compiled.Rules {
				b.AddEdge(serviceIDs[compiled.Rules[i].Source.ServiceName], secretID)
			}
		}
	}
}

func (c *Compiler) compileSharedResources(doc *composeforge.ComposeDocument, b *graph.Builder, serviceIDs map[string]graph.NodeID, result *Result) {
	for _, resource := range doc.SharedResources {
		path := fmt.Sprintf("x-%s.%s", resource.Kind, resource.Name)

		unknown := false
		for _, grant := range resource.Services {
			if _, ok := serviceIDs[grant.Name]; !ok {
				result.Errors = append(result.Errors,
					composeforge.Validationf(path, "service %q is not declared", grant.Name))
				unknown = true
			}
		}
		if unknown {
			continue
		}

		policies, err := iam.Compile(resource)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		for i := range policies {
			policy := &policies[i]
			policyID := b.AddNode(graph.KindIAMPolicy, policy.Name, policy)
			b.AddEdge(policyID, serviceIDs[policy.Service])
		}
	}
}

// addRuleNodes attaches compiled ingress rules to their owner node.
func addRuleNodes(b *graph.Builder, ownerID graph.NodeID, owner string, rules []composeforge.IngressRule) {
	for i := range rules {
		rule := rules[i]
		name := fmt.Sprintf("%sIngress%d", nonAlphaNum.ReplaceAllString(owner, ""), i)
		ruleID := b.AddNode(graph.KindSecurityRule, name, &rule)
		b.AddEdge(ruleID, ownerID)
	}
}

// listenerPorts derives the port set a load balancer ingress block covers
// from its declared listeners.
func listenerPorts(lb *composeforge.LoadBalancerSpec) []composeforge.PortDef {
	ports := make([]composeforge.PortDef, 0, len(lb.Listeners))
	for _, listener := range lb.Listeners {
		ports = append(ports, composeforge.PortDef{Target: listener.Port, Protocol: "tcp"})
	}
	return ports
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
