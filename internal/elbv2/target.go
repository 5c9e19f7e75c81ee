package elbv2

import (
	"fmt"
	"regexp"
	"strings"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/attributes"
)

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// ParseTargetName splits "family:service". With no colon the family
// defaults to the service name.
func ParseTargetName(name string) (family, service string) {
	if idx := strings.Index(name, ":"); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return name, name
}

// TargetGroupName builds the logical name of a target group.
func TargetGroupName(lbName, family, service string, port int) string {
	return fmt.Sprintf("Tgt%s%s%s%d", sanitize(lbName), sanitize(family), sanitize(service), port)
}

// CompileTargetGroup turns one x-elbv2 Services entry into a target group
// bound to the given load balancer.
func CompileTargetGroup(lb *composeforge.LoadBalancerSpec, def *composeforge.TargetDef, svc *composeforge.ServiceDefinition, normalizer *attributes.Normalizer) (*composeforge.TargetGroup, []composeforge.Warning, error) {
	path := fmt.Sprintf("x-elbv2.%s.Services[%s]", lb.Name, def.Name)

	family, service := ParseTargetName(def.Name)
	if service == "" {
		return nil, nil, composeforge.Validationf(path, "target name %q must parse as family:service", def.Name)
	}

	if def.HealthCheck == nil {
		return nil, nil, composeforge.Validationf(path, "healthcheck is required")
	}
	spec, warnings, err := ParseHealthCheck(path+".healthcheck", def.HealthCheck)
	if err != nil {
		return nil, nil, err
	}

	if def.Port == 0 {
		return nil, nil, composeforge.Validationf(path, "port is required")
	}
	if err := validateServicePort(path, def, svc); err != nil {
		return nil, nil, err
	}

	protocol := def.Protocol
	if protocol == "" {
		protocol = spec.Protocol
	}

	if lb.IsNLB() {
		fixed, w := FixNLBHealthCheck(path+".healthcheck", spec)
		spec = fixed
		warnings = append(warnings, w...)
	}

	lbType := attributes.Application
	if lb.IsNLB() {
		lbType = attributes.Network
	}
	attrs, attrWarnings, err := normalizer.Normalize(
		path+".TargetGroupAttributes",
		def.TargetGroupAttributes,
		lbType,
		attributes.DefaultTargetGroupAttributes(),
	)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, attrWarnings...)

	tg := &composeforge.TargetGroup{
		Name:         TargetGroupName(lb.Name, family, service, def.Port),
		Family:       family,
		Service:      service,
		LoadBalancer: lb.Name,
		Port:         def.Port,
		Protocol:     protocol,
		TargetType:   "ip",
		HealthCheck:  spec,
		Attributes:   attrs,
	}
	return tg, warnings, nil
}

// validateServicePort checks the target port and protocol against the
// service's declared ports.
func validateServicePort(path string, def *composeforge.TargetDef, svc *composeforge.ServiceDefinition) error {
	if svc == nil {
		return nil // service resolution is the caller's concern
	}

	var chosen *composeforge.PortDef
	for i := range svc.Ports {
		if svc.Ports[i].Target == def.Port {
			chosen = &svc.Ports[i]
			break
		}
	}
	if chosen == nil {
		targets := make([]string, len(svc.Ports))
		for i, p := range svc.Ports {
			targets[i] = fmt.Sprintf("%d", p.Target)
		}
		return composeforge.Validationf(path,
			"port %d is not declared by service %s, valid ports are [%s]",
			def.Port, svc.Name, strings.Join(targets, ", "))
	}

	if def.Protocol == "" {
		return nil
	}
	valid := map[string][]string{
		"tcp": {"HTTP", "HTTPS", "TLS", "TCP_UDP", "TCP"},
		"udp": {"UDP", "TCP_UDP"},
	}
	svcProto := chosen.Protocol
	if svcProto == "" {
		svcProto = "tcp"
	}
	for _, p := range valid[svcProto] {
		if def.Protocol == p {
			return nil
		}
	}
	return composeforge.Validationf(path,
		"target group protocol %s does not match the service %s port protocol %s",
		def.Protocol, svc.Name, svcProto)
}

func sanitize(s string) string {
	return nonAlphaNum.ReplaceAllString(s, "")
}
