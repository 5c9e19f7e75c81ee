// Package emit serializes a finalized resource graph into a
// CloudFormation-shaped template.
//
// The emitter is a pure function of the graph: the same graph always
// produces the same template, byte for byte.
package emit

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/graph"
)

// Builder renders resource graphs into templates.
type Builder struct {
	// Description becomes the template description.
	Description string
}

// Build walks the graph in topological order and emits one template
// resource per emittable node. Service and secret nodes shape other
// resources but have no template resource of their own.
func (b *Builder) Build(g *graph.Graph) (*composeforge.Template, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	template := &composeforge.Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              b.Description,
		Resources:                make(map[string]composeforge.ResourceDef),
		Outputs:                  make(map[string]composeforge.Output),
	}

	// Owners whose security group or role the emitted resources Ref; the
	// scaffolding for them is emitted after the walk so every Ref in the
	// template resolves.
	sgOwners := make(map[string]bool)
	roleServices := make(map[string]bool)
	needVpc := false

	for _, id := range order {
		node := g.Node(id.Kind, id.Name)

		var def *composeforge.ResourceDef
		switch id.Kind {
		case graph.KindSecurityRule:
			rule := node.Resource.(*composeforge.IngressRule)
			def = securityRuleDef(rule)
			if rule.GroupID == "" {
				sgOwners[rule.Owner] = true
			}
			if rule.Source.Kind == composeforge.SourceService {
				sgOwners[rule.Source.ServiceName] = true
			}
		case graph.KindLoadBalancer:
			lb := node.Resource.(*composeforge.LoadBalancerSpec)
			def = loadBalancerDef(lb)
			if !lb.IsNLB() {
				sgOwners[lb.Name] = true
			}
		case graph.KindTargetGroup:
			tg := node.Resource.(*composeforge.TargetGroup)
			def = targetGroupDef(tg)
			needVpc = true
			template.Outputs[tg.Name+"Arn"] = composeforge.Output{
				Description: fmt.Sprintf("Target group for %s:%s", tg.Family, tg.Service),
				Value:       map[string]any{"Ref": tg.Name},
			}
		case graph.KindListener:
			listener := node.Resource.(*composeforge.Listener)
			def = listenerDef(listener)
			for _, ruleDef := range listenerRuleDefs(listener) {
				template.Resources[ruleDef.name] = ruleDef.def
			}
		case graph.KindIAMPolicy:
			policy := node.Resource.(*composeforge.IAMPolicy)
			def = iamPolicyDef(policy)
			roleServices[policy.Service] = true
		default:
			continue
		}

		def.DependsOn = dependsOn(g, node.ID)
		template.Resources[sanitize(id.Name)] = *def
	}

	for owner := range sgOwners {
		template.Resources[securityGroupName(owner)] = securityGroupDef(owner)
		needVpc = true
	}
	for service := range roleServices {
		template.Resources[roleName(service)] = roleDef(service)
	}
	if needVpc {
		template.Parameters = map[string]composeforge.Parameter{
			"VpcId": {
				Type:        "AWS::EC2::VPC::Id",
				Description: "VPC the compiled resources attach to",
			},
		}
	}

	if len(template.Outputs) == 0 {
		template.Outputs = nil
	}
	return template, nil
}

// dependsOn translates graph edges into DependsOn entries, keeping only
// dependencies that exist as template resources.
func dependsOn(g *graph.Graph, id graph.NodeID) []string {
	var names []string
	for _, dep := range g.DependenciesOf(id) {
		switch dep.Kind {
		case graph.KindService, graph.KindSecret:
			continue
		}
		names = append(names, sanitize(dep.Name))
	}
	return names
}

func securityRuleDef(rule *composeforge.IngressRule) *composeforge.ResourceDef {
	props := map[string]any{
		"IpProtocol":  rule.Protocol,
		"FromPort":    rule.FromPort,
		"ToPort":      rule.ToPort,
		"Description": rule.Description,
	}
	if rule.GroupID != "" {
		props["GroupId"] = rule.GroupID
	} else {
		props["GroupId"] = ref(securityGroupName(rule.Owner))
	}

	switch rule.Source.Kind {
	case composeforge.SourceCIDR:
		props["CidrIp"] = rule.Source.CIDR
	case composeforge.SourceSecurityGroup:
		props["SourceSecurityGroupId"] = rule.Source.SecurityGroupID
	case composeforge.SourcePrefixList:
		props["SourcePrefixListId"] = rule.Source.PrefixListID
	case composeforge.SourceSelf:
		props["SourceSecurityGroupId"] = ref(securityGroupName(rule.Owner))
	case composeforge.SourceService:
		props["SourceSecurityGroupId"] = ref(securityGroupName(rule.Source.ServiceName))
	}

	return &composeforge.ResourceDef{
		Type:       "AWS::EC2::SecurityGroupIngress",
		Properties: props,
	}
}

func loadBalancerDef(lb *composeforge.LoadBalancerSpec) *composeforge.ResourceDef {
	props := map[string]any{
		"Type": lb.Type,
	}
	if lb.Scheme != "" {
		props["Scheme"] = lb.Scheme
	}
	if !lb.IsNLB() {
		props["SecurityGroups"] = []any{ref(securityGroupName(lb.Name))}
	}
	// User supplied Properties pass through and win over generated ones.
	for key, value := range lb.Properties {
		props[key] = value
	}

	return &composeforge.ResourceDef{
		Type:       "AWS::ElasticLoadBalancingV2::LoadBalancer",
		Properties: props,
	}
}

func targetGroupDef(tg *composeforge.TargetGroup) *composeforge.ResourceDef {
	hc := tg.HealthCheck
	props := map[string]any{
		"Port":                       tg.Port,
		"Protocol":                   tg.Protocol,
		"TargetType":                 tg.TargetType,
		"VpcId":                      ref("VpcId"),
		"HealthCheckPort":            fmt.Sprintf("%d", hc.Port),
		"HealthCheckProtocol":        hc.Protocol,
		"HealthyThresholdCount":      hc.HealthyThreshold,
		"UnhealthyThresholdCount":    hc.UnhealthyThreshold,
		"HealthCheckIntervalSeconds": hc.IntervalSeconds,
	}
	if hc.TimeoutSeconds > 0 {
		props["HealthCheckTimeoutSeconds"] = hc.TimeoutSeconds
	}
	if hc.Path != "" {
		props["HealthCheckPath"] = hc.Path
	}
	if hc.ReturnCodes != "" {
		props["Matcher"] = map[string]any{"HttpCode": hc.ReturnCodes}
	}
	if len(tg.Attributes) > 0 {
		attrs := make([]any, 0, len(tg.Attributes))
		for _, attr := range tg.Attributes {
			attrs = append(attrs, map[string]any{"Key": attr.Key, "Value": attr.Value})
		}
		props["TargetGroupAttributes"] = attrs
	}

	return &composeforge.ResourceDef{
		Type:       "AWS::ElasticLoadBalancingV2::TargetGroup",
		Properties: props,
	}
}

func listenerDef(listener *composeforge.Listener) *composeforge.ResourceDef {
	props := map[string]any{
		"LoadBalancerArn": ref(sanitize(listener.LoadBalancer)),
		"Port":            listener.Port,
		"Protocol":        listener.Protocol,
	}
	if listener.SSLPolicy != "" {
		props["SslPolicy"] = listener.SSLPolicy
	}
	if len(listener.CertificateARNs) > 0 {
		certs := make([]any, 0, len(listener.CertificateARNs))
		for _, arn := range listener.CertificateARNs {
			certs = append(certs, map[string]any{"CertificateArn": arn})
		}
		props["Certificates"] = certs
	}
	if rule, ok := defaultRule(listener); ok {
		props["DefaultActions"] = ruleActions(rule)
	}

	return &composeforge.ResourceDef{
		Type:       "AWS::ElasticLoadBalancingV2::Listener",
		Properties: props,
	}
}

// defaultRule picks the listener's default forward rule: the rule without
// a priority, falling back to the first rule. A listener without rules
// has no default action.
func defaultRule(listener *composeforge.Listener) (composeforge.ListenerRule, bool) {
	for _, rule := range listener.Rules {
		if rule.Priority == 0 {
			return rule, true
		}
	}
	if len(listener.Rules) == 0 {
		return composeforge.ListenerRule{}, false
	}
	return listener.Rules[0], true
}

type namedDef struct {
	name string
	def  composeforge.ResourceDef
}

// listenerRuleDefs emits one ListenerRule resource per prioritized rule.
func listenerRuleDefs(listener *composeforge.Listener) []namedDef {
	var defs []namedDef
	for _, rule := range listener.Rules {
		if rule.Priority == 0 {
			continue
		}

		var conditions []any
		if rule.Condition.Domain != "" {
			conditions = append(conditions, map[string]any{
				"Field":            "host-header",
				"HostHeaderConfig": map[string]any{"Values": []any{rule.Condition.Domain}},
			})
		}
		if rule.Condition.Path != "" {
			conditions = append(conditions, map[string]any{
				"Field":             "path-pattern",
				"PathPatternConfig": map[string]any{"Values": []any{rule.Condition.Path}},
			})
		}

		defs = append(defs, namedDef{
			name: fmt.Sprintf("%sRule%d", listener.Name, rule.Priority),
			def: composeforge.ResourceDef{
				Type: "AWS::ElasticLoadBalancingV2::ListenerRule",
				Properties: map[string]any{
					"ListenerArn": ref(listener.Name),
					"Priority":    rule.Priority,
					"Conditions":  conditions,
					"Actions":     ruleActions(rule),
				},
				DependsOn: []string{listener.Name},
			},
		})
	}
	return defs
}

// ruleActions builds the ordered action list of a rule: the optional
// authentication action first, then the forward.
func ruleActions(rule composeforge.ListenerRule) []any {
	var actions []any
	order := 1
	if rule.Auth != nil {
		action := map[string]any{
			"Type":  string(rule.Auth.Kind),
			"Order": order,
		}
		switch rule.Auth.Kind {
		case composeforge.AuthCognito:
			action["AuthenticateCognitoConfig"] = rule.Auth.Config
		case composeforge.AuthOIDC:
			action["AuthenticateOidcConfig"] = rule.Auth.Config
		}
		actions = append(actions, action)
		order++
	}
	actions = append(actions, map[string]any{
		"Type":           "forward",
		"Order":          order,
		"TargetGroupArn": ref(rule.TargetGroup),
	})
	return actions
}

func iamPolicyDef(policy *composeforge.IAMPolicy) *composeforge.ResourceDef {
	statements := make([]any, 0, len(policy.Statements))
	for _, statement := range policy.Statements {
		entry := map[string]any{
			"Effect":   statement.Effect,
			"Action":   statement.Actions,
			"Resource": statement.Resources,
		}
		if statement.Sid != "" {
			entry["Sid"] = statement.Sid
		}
		statements = append(statements, entry)
	}

	return &composeforge.ResourceDef{
		Type: "AWS::IAM::Policy",
		Properties: map[string]any{
			"PolicyName": policy.Name,
			"PolicyDocument": map[string]any{
				"Version":   "2012-10-17",
				"Statement": statements,
			},
			"Roles": []any{ref(roleName(policy.Service))},
		},
	}
}

// ToJSON renders the template as indented JSON with a trailing newline.
func ToJSON(template *composeforge.Template) ([]byte, error) {
	data, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ToYAML renders the template as YAML.
func ToYAML(template *composeforge.Template) ([]byte, error) {
	return yaml.Marshal(template)
}

func securityGroupDef(owner string) composeforge.ResourceDef {
	return composeforge.ResourceDef{
		Type: "AWS::EC2::SecurityGroup",
		Properties: map[string]any{
			"GroupDescription": fmt.Sprintf("Security group for %s", owner),
			"VpcId":            ref("VpcId"),
		},
	}
}

func roleDef(service string) composeforge.ResourceDef {
	return composeforge.ResourceDef{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "ecs-tasks.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				}},
			},
		},
	}
}

func ref(name string) map[string]any { return map[string]any{"Ref": name} }

func securityGroupName(owner string) string {
	return sanitize(owner) + "SecurityGroup"
}

func roleName(service string) string {
	return sanitize(service) + "Role"
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
	}
	return string(out)
}
