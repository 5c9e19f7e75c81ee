package elbv2

import (
	"context"
	"fmt"
	"sort"
	"strings"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/resolver"
)

// ListenerState tracks the compilation lifecycle of one listener.
type ListenerState int

const (
	StateDeclared ListenerState = iota
	StateTargetsResolved
	StateConditionsCompiled
	StateFinalized
)

func (s ListenerState) String() string {
	switch s {
	case StateDeclared:
		return "Declared"
	case StateTargetsResolved:
		return "TargetsResolved"
	case StateConditionsCompiled:
		return "ConditionsCompiled"
	case StateFinalized:
		return "Finalized"
	}
	return fmt.Sprintf("ListenerState(%d)", int(s))
}

// ListenerBuild compiles one declared listener through its lifecycle:
// Declared -> TargetsResolved -> ConditionsCompiled -> Finalized.
// Transitions are strictly ordered; calling a phase out of order is a
// programming error and fails loudly.
type ListenerBuild struct {
	state ListenerState
	path  string
	def   *composeforge.ListenerDef
	lb    *composeforge.LoadBalancerSpec

	targets []resolvedTarget
	out     composeforge.Listener
}

type resolvedTarget struct {
	def *composeforge.ListenerTarget
	tg  *composeforge.TargetGroup
}

// NewListenerBuild declares a listener for compilation.
func NewListenerBuild(lb *composeforge.LoadBalancerSpec, def *composeforge.ListenerDef) *ListenerBuild {
	return &ListenerBuild{
		state: StateDeclared,
		path:  fmt.Sprintf("x-elbv2.%s.Listeners[%d]", lb.Name, def.Port),
		def:   def,
		lb:    lb,
		out: composeforge.Listener{
			Name:         fmt.Sprintf("%sListener%d", sanitize(lb.Name), def.Port),
			LoadBalancer: lb.Name,
			Port:         def.Port,
		},
	}
}

// State returns the current lifecycle state.
func (b *ListenerBuild) State() ListenerState { return b.state }

// ResolveTargets matches each declared listener target to a compiled
// target group by its family:service name.
func (b *ListenerBuild) ResolveTargets(targetGroups []*composeforge.TargetGroup) error {
	if err := b.expect(StateDeclared); err != nil {
		return err
	}
	if len(b.def.Targets) == 0 {
		return composeforge.Validationf(b.path, "listener declares no Targets")
	}

	byName := make(map[string]*composeforge.TargetGroup, len(targetGroups))
	for _, tg := range targetGroups {
		if tg.LoadBalancer == b.lb.Name {
			byName[tg.Family+":"+tg.Service] = tg
		}
	}

	for _, target := range b.def.Targets {
		family, service := ParseTargetName(target.Name)
		tg, ok := byName[family+":"+service]
		if !ok {
			return composeforge.Validationf(b.path,
				"target %q does not match any Services entry of %s", target.Name, b.lb.Name)
		}
		b.targets = append(b.targets, resolvedTarget{def: target, tg: tg})
	}

	b.state = StateTargetsResolved
	return nil
}

// CompileConditions turns each target's access definition into a listener
// rule, rejecting indistinguishable conditions on the same listener.
func (b *ListenerBuild) CompileConditions() error {
	if err := b.expect(StateTargetsResolved); err != nil {
		return err
	}

	seen := make(map[composeforge.AccessCondition]string)
	priority := 1

	for _, target := range b.targets {
		condition, err := parseAccess(b.path, target.def.Access)
		if err != nil {
			return err
		}
		if prev, dup := seen[condition]; dup {
			return &composeforge.ConflictError{
				Path: b.path,
				Message: fmt.Sprintf("targets %s and %s share the same access condition (domain=%q, path=%q)",
					prev, target.def.Name, condition.Domain, condition.Path),
			}
		}
		seen[condition] = target.def.Name

		auth, err := parseAuth(b.path, target.def)
		if err != nil {
			return err
		}

		rule := composeforge.ListenerRule{
			TargetGroup: target.tg.Name,
			Condition:   condition,
			Auth:        auth,
		}
		if condition != (composeforge.AccessCondition{}) {
			rule.Priority = priority
			priority++
		}
		b.out.Rules = append(b.out.Rules, rule)
	}

	b.state = StateConditionsCompiled
	return nil
}

// Finalize resolves certificates and fills protocol defaults. After this
// the compiled listener is immutable.
func (b *ListenerBuild) Finalize(ctx context.Context, r *resolver.Resolver) (*composeforge.Listener, error) {
	if err := b.expect(StateConditionsCompiled); err != nil {
		return nil, err
	}

	for i, cert := range b.def.Certificates {
		ref := CertificateSymbolicRef(cert, fmt.Sprintf("%s.Certificates[%d]", b.path, i))
		arn, err := r.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		b.out.CertificateARNs = append(b.out.CertificateARNs, arn)
	}

	b.out.Protocol = b.def.Protocol
	if b.out.Protocol == "" {
		b.out.Protocol = defaultListenerProtocol(b.lb, len(b.out.CertificateARNs) > 0)
	}
	b.out.SSLPolicy = b.def.SSLPolicy
	if b.out.SSLPolicy == "" && len(b.out.CertificateARNs) > 0 {
		b.out.SSLPolicy = "ELBSecurityPolicy-TLS13-1-2-2021-06"
	}

	b.state = StateFinalized
	return &b.out, nil
}

// CertificateSymbolicRef maps a certificate reference onto the resolver
// contract: literal ARNs pass through validation, x-acm names become
// tag lookups.
func CertificateSymbolicRef(cert composeforge.CertificateRef, path string) resolver.SymbolicRef {
	ref := resolver.SymbolicRef{Kind: resolver.KindCertificate, Path: path}
	if cert.ARN != "" {
		ref.ID = cert.ARN
	}
	if cert.ACM != "" {
		ref.Lookup = map[string]string{"Name": cert.ACM}
	}
	return ref
}

func (b *ListenerBuild) expect(state ListenerState) error {
	if b.state != state {
		return fmt.Errorf("%s: listener is %s, expected %s", b.path, b.state, state)
	}
	return nil
}

func defaultListenerProtocol(lb *composeforge.LoadBalancerSpec, hasCerts bool) string {
	if lb.IsNLB() {
		if hasCerts {
			return "TLS"
		}
		return "TCP"
	}
	if hasCerts {
		return "HTTPS"
	}
	return "HTTP"
}

// parseAccess compiles the access definition of a listener target. The
// string forms are "/path", "domain.tld" and "domain.tld/path"; the map
// form uses Domain and Path keys. Absent access means the default rule.
func parseAccess(path string, access any) (composeforge.AccessCondition, error) {
	switch v := access.(type) {
	case nil:
		return composeforge.AccessCondition{}, nil
	case string:
		if v == "" {
			return composeforge.AccessCondition{}, nil
		}
		if strings.HasPrefix(v, "/") {
			return composeforge.AccessCondition{Path: v}, nil
		}
		if idx := strings.Index(v, "/"); idx >= 0 {
			return composeforge.AccessCondition{Domain: v[:idx], Path: v[idx:]}, nil
		}
		return composeforge.AccessCondition{Domain: v}, nil
	case map[string]any:
		condition := composeforge.AccessCondition{}
		for key, raw := range v {
			value, ok := raw.(string)
			if !ok {
				return condition, composeforge.Validationf(path, "access.%s must be a string", key)
			}
			switch strings.ToLower(key) {
			case "domain", "hostname":
				condition.Domain = value
			case "path":
				condition.Path = value
			default:
				return condition, composeforge.Validationf(path, "unknown access key %q", key)
			}
		}
		return condition, nil
	default:
		return composeforge.AccessCondition{}, composeforge.Validationf(path,
			"access must be a string or a map, got %T", access)
	}
}

// parseAuth validates and extracts the optional authentication action.
// Only one of the cognito and OIDC configs may be set.
func parseAuth(path string, target *composeforge.ListenerTarget) (*composeforge.AuthAction, error) {
	hasCognito := len(target.AuthenticateCognitoConfig) > 0
	hasOIDC := len(target.AuthenticateOidcConfig) > 0

	switch {
	case hasCognito && hasOIDC:
		return nil, composeforge.Validationf(path,
			"target %s sets both AuthenticateCognitoConfig and AuthenticateOidcConfig", target.Name)
	case hasCognito:
		return &composeforge.AuthAction{Kind: composeforge.AuthCognito, Config: target.AuthenticateCognitoConfig}, nil
	case hasOIDC:
		return &composeforge.AuthAction{Kind: composeforge.AuthOIDC, Config: target.AuthenticateOidcConfig}, nil
	default:
		return nil, nil
	}
}

// SortRules orders listener rules deterministically for emission: default
// rule last, then by priority.
func SortRules(rules []composeforge.ListenerRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		pi, pj := rules[i].Priority, rules[j].Priority
		if pi == 0 {
			pi = 1 << 30
		}
		if pj == 0 {
			pj = 1 << 30
		}
		return pi < pj
	})
}
