// Package ingress compiles x-network Ingress blocks into normalized
// allow-rules for the owner's security construct.
//
// Sources are polymorphic: external CIDRs, AWS-managed references
// (security groups, prefix lists, literal or looked up) and the owner
// itself. Each compiles to a tagged IngressRule variant; compiling the
// same block twice yields the same rule set.
package ingress

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/resolver"
)

// nonAlphaNum strips characters that are not legal in rule descriptions
// and logical names.
var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Owner is the security construct an ingress block attaches to: a service
// security group, or an ALB security group. NLBs carry no security group,
// so an ingress block on an NLB owner is rejected.
type Owner struct {
	Name   string
	Path   string
	Ports  []composeforge.PortDef
	LBType string // empty for services, "application" or "network" for LBs
}

// Compiler compiles ingress blocks, resolving AWS source references
// through the shared resolver.
type Compiler struct {
	resolver *resolver.Resolver
}

// New creates an ingress Compiler.
func New(r *resolver.Resolver) *Compiler {
	return &Compiler{resolver: r}
}

// CollectRefs returns the symbolic references an ingress block will need,
// so callers can warm the resolver cache in one concurrent batch.
func CollectRefs(block *composeforge.IngressBlock, path string) []resolver.SymbolicRef {
	if block == nil {
		return nil
	}
	refs := make([]resolver.SymbolicRef, 0, len(block.AwsSources))
	for i, src := range block.AwsSources {
		refs = append(refs, awsSourceRef(src, fmt.Sprintf("%s.AwsSources[%d]", path, i)))
	}
	return refs
}

// Compile turns an ingress block into the rule set for the owner. Fatal
// findings abort only the offending source; the full error list is
// returned alongside the rules that did compile. A source whose port set
// is empty emits no rules and is reported as a warning, never silently
// dropped.
func (c *Compiler) Compile(ctx context.Context, block *composeforge.IngressBlock, owner Owner) ([]composeforge.IngressRule, []composeforge.Warning, []error) {
	if block == nil {
		return nil, nil, nil
	}
	if owner.LBType == "network" {
		return nil, nil, []error{composeforge.Validationf(owner.Path,
			"network load balancers have no security group; move Ingress to the service x-network block")}
	}

	var rules []composeforge.IngressRule
	var warnings []composeforge.Warning
	var errs []error

	for i, src := range block.ExtSources {
		path := fmt.Sprintf("%s.ExtSources[%d]", owner.Path, i)
		compiled, err := c.compileExtSource(src, owner, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(compiled) == 0 {
			warnings = append(warnings, noPortsWarning(path, owner))
			continue
		}
		rules = append(rules, compiled...)
	}

	for i, src := range block.AwsSources {
		path := fmt.Sprintf("%s.AwsSources[%d]", owner.Path, i)
		compiled, err := c.compileAwsSource(ctx, src, owner, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(compiled) == 0 {
			warnings = append(warnings, noPortsWarning(path, owner))
			continue
		}
		rules = append(rules, compiled...)
	}

	if block.Myself {
		self := selfRules(owner)
		if len(self) == 0 {
			warnings = append(warnings, noPortsWarning(owner.Path+".Myself", owner))
		}
		rules = append(rules, self...)
	}

	return rules, warnings, errs
}

// noPortsWarning reports a source that matched none of the owner ports.
func noPortsWarning(path string, owner Owner) composeforge.Warning {
	return composeforge.Warning{
		Code:    composeforge.WarnNoMatchingPorts,
		Path:    path,
		Message: fmt.Sprintf("source matches no declared port of %s; no rules emitted", owner.Name),
	}
}

// compileExtSource expands one CIDR source over the owner ports.
func (c *Compiler) compileExtSource(src composeforge.ExtSource, owner Owner, path string) ([]composeforge.IngressRule, error) {
	if src.IPv4 == "" {
		return nil, composeforge.Validationf(path, "IPv4 is required for ExtSources")
	}
	if _, _, err := net.ParseCIDR(src.IPv4); err != nil {
		return nil, composeforge.Validationf(path, "IPv4 %q is not a valid CIDR", src.IPv4)
	}

	name := src.Name
	if name == "" {
		name = src.SourceName
	}
	name = nonAlphaNum.ReplaceAllString(name, "")
	if name == "" {
		name = "all"
	}

	description := src.Description
	if description == "" {
		description = fmt.Sprintf("From %s to %s", name, owner.Name)
	}

	var rules []composeforge.IngressRule
	for _, port := range ownerPorts(owner, src.Ports) {
		rules = append(rules, composeforge.IngressRule{
			Owner:       owner.Name,
			Source:      composeforge.IngressSource{Kind: composeforge.SourceCIDR, CIDR: src.IPv4},
			Protocol:    portProtocol(port),
			FromPort:    port.Target,
			ToPort:      port.Target,
			Description: description,
		})
	}
	return rules, nil
}

// compileAwsSource resolves and expands one AWS-managed source.
func (c *Compiler) compileAwsSource(ctx context.Context, src composeforge.AwsSource, owner Owner, path string) ([]composeforge.IngressRule, error) {
	ref := awsSourceRef(src, path)
	if ref.Kind == "" {
		return nil, composeforge.Validationf(path, "Type must be SecurityGroup or PrefixList, got %q", src.Type)
	}

	id, err := c.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	source := composeforge.IngressSource{}
	switch ref.Kind {
	case resolver.KindSecurityGroup:
		source.Kind = composeforge.SourceSecurityGroup
		source.SecurityGroupID = id
	case resolver.KindPrefixList:
		source.Kind = composeforge.SourcePrefixList
		source.PrefixListID = id
	}

	description := src.Description
	if description == "" {
		description = fmt.Sprintf("From %s to %s", id, owner.Name)
	}

	var rules []composeforge.IngressRule
	for _, port := range ownerPorts(owner, nil) {
		rules = append(rules, composeforge.IngressRule{
			Owner:       owner.Name,
			Source:      source,
			Protocol:    portProtocol(port),
			FromPort:    port.Target,
			ToPort:      port.Target,
			Description: description,
		})
	}
	return rules, nil
}

// selfRules emits one self-referencing rule per distinct owner port.
func selfRules(owner Owner) []composeforge.IngressRule {
	seen := make(map[int]bool)
	var rules []composeforge.IngressRule
	for _, port := range owner.Ports {
		if seen[port.Target] {
			continue
		}
		seen[port.Target] = true
		rules = append(rules, composeforge.IngressRule{
			Owner:       owner.Name,
			Source:      composeforge.IngressSource{Kind: composeforge.SourceSelf},
			Protocol:    portProtocol(port),
			FromPort:    port.Target,
			ToPort:      port.Target,
			Description: fmt.Sprintf("Allow traffic within %s", owner.Name),
		})
	}
	return rules
}

// ownerPorts returns the owner ports a source applies to, deduplicated and
// in stable order. A non-empty restriction keeps only the listed targets.
func ownerPorts(owner Owner, restrict []int) []composeforge.PortDef {
	allowed := make(map[int]bool, len(restrict))
	for _, p := range restrict {
		allowed[p] = true
	}

	seen := make(map[int]bool)
	var ports []composeforge.PortDef
	for _, port := range owner.Ports {
		if len(restrict) > 0 && !allowed[port.Target] {
			continue
		}
		if seen[port.Target] {
			continue
		}
		seen[port.Target] = true
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Target < ports[j].Target })
	return ports
}

// portProtocol derives the rule protocol from the port definition,
// defaulting to tcp.
func portProtocol(port composeforge.PortDef) string {
	if port.Protocol == "" {
		return "tcp"
	}
	return strings.ToLower(port.Protocol)
}

func awsSourceRef(src composeforge.AwsSource, path string) resolver.SymbolicRef {
	ref := resolver.SymbolicRef{Path: path, ID: src.ID, Lookup: src.Lookup}
	switch src.Type {
	case "SecurityGroup":
		ref.Kind = resolver.KindSecurityGroup
	case "PrefixList":
		ref.Kind = resolver.KindPrefixList
	}
	return ref
}
