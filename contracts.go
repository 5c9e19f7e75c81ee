// Package composeforge compiles extended docker-compose documents into
// AWS infrastructure resource declarations.
//
// A parsed compose document (services plus the x-network, x-elbv2,
// x-secrets and shared-resource extensions) goes in, and a dependency
// ordered graph of security rules, target groups, listeners, load
// balancers, IAM policies and secret bindings comes out, ready for an
// external serializer.
//
// The root package holds the shared data model: the normalized document
// tree consumed from the parser, and the compiled resource types produced
// for the emitter. Compilation itself lives under internal/.
package composeforge

import "fmt"

// ComposeDocument is the normalized, immutable in-memory tree produced by
// the document parser. Compilation never mutates it.
type ComposeDocument struct {
	Services        map[string]*ServiceDefinition
	LoadBalancers   map[string]*LoadBalancerSpec
	Secrets         map[string]*SecretDef
	SharedResources []*SharedResource
	Databases       []*RdsDatabase
}

// ServiceDefinition is one compose service plus its networking extension.
type ServiceDefinition struct {
	Name    string
	Family  string // task family; defaults to the service name
	Image   string
	Ports   []PortDef
	Network *NetworkConfig
	Secrets []string // names of referenced secrets
}

// FamilyName returns the task family, falling back to the service name.
func (s *ServiceDefinition) FamilyName() string {
	if s.Family != "" {
		return s.Family
	}
	return s.Name
}

// PortDef is a compose port mapping.
type PortDef struct {
	Target    int
	Published int
	Protocol  string // tcp or udp; empty means tcp
}

// NetworkConfig is the x-network extension of a service.
type NetworkConfig struct {
	AssignPublicIp bool          `yaml:"AssignPublicIp"`
	Ingress        *IngressBlock `yaml:"Ingress"`
}

// IngressBlock declares inbound traffic sources for a service or a load
// balancer.
type IngressBlock struct {
	ExtSources []ExtSource `yaml:"ExtSources"`
	AwsSources []AwsSource `yaml:"AwsSources"`
	Myself     bool        `yaml:"Myself"`
}

// ExtSource is an external CIDR-based ingress source.
type ExtSource struct {
	IPv4        string `yaml:"IPv4"`
	Name        string `yaml:"Name"`
	SourceName  string `yaml:"Source_name"`
	Description string `yaml:"Description"`
	Ports       []int  `yaml:"Ports"` // optional restriction to a subset of the owner ports
}

// AwsSource references an AWS-managed source, either by literal ID or by
// tag-based lookup criteria.
type AwsSource struct {
	Type        string            `yaml:"Type"` // SecurityGroup or PrefixList
	ID          string            `yaml:"Id"`
	Lookup      map[string]string `yaml:"Lookup"`
	Description string            `yaml:"Description"`
}

// LoadBalancerSpec is one x-elbv2 entry. Type and Scheme may also arrive
// through Properties; the loader lifts them out.
type LoadBalancerSpec struct {
	Name            string         `yaml:"-"`
	Type            string         `yaml:"Type"` // application or network
	Scheme          string         `yaml:"Scheme"`
	Properties      map[string]any `yaml:"Properties"`
	MacroParameters map[string]any `yaml:"MacroParameters"`
	Settings        map[string]any `yaml:"Settings"`
	DnsAliases      []string       `yaml:"DnsAliases"`
	Ingress         *IngressBlock  `yaml:"Ingress"`
	Listeners       []*ListenerDef `yaml:"Listeners"`
	Services        []*TargetDef   `yaml:"Services"`
}

// IsNLB reports whether the load balancer is a network load balancer.
func (lb *LoadBalancerSpec) IsNLB() bool { return lb.Type == "network" }

// ListenerDef is a declared listener on a load balancer.
type ListenerDef struct {
	Port         int               `yaml:"Port"`
	Protocol     string            `yaml:"Protocol"`
	SSLPolicy    string            `yaml:"SslPolicy"`
	Certificates []CertificateRef  `yaml:"Certificates"`
	Targets      []*ListenerTarget `yaml:"Targets"`
}

// CertificateRef points at a TLS certificate, either by literal ARN or by
// the name of an externally managed ACM certificate.
type CertificateRef struct {
	ARN string `yaml:"Arn"`
	ACM string `yaml:"x-acm"`
}

// ListenerTarget routes a listener to a service target group, optionally
// gated by an access condition and an authentication action.
type ListenerTarget struct {
	// Name is family:service; Access is the string or map condition form.
	Name                      string         `yaml:"name"`
	Access                    any            `yaml:"access"`
	AuthenticateCognitoConfig map[string]any `yaml:"AuthenticateCognitoConfig"`
	AuthenticateOidcConfig    map[string]any `yaml:"AuthenticateOidcConfig"`
}

// TargetDef is one x-elbv2 Services entry: the target group definition for
// a service.
type TargetDef struct {
	// Name is family:service; family defaults to the service name.
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	// HealthCheck is the compact string or structured map form.
	HealthCheck any `yaml:"healthcheck"`
	// TargetGroupAttributes is a list of Key/Value pairs or a plain map.
	TargetGroupAttributes any `yaml:"TargetGroupAttributes"`
}

// SecretDef is a compose secret with its x-secrets extension. Exactly one
// of Name and Lookup must be set.
type SecretDef struct {
	Name     string            `yaml:"Name"`
	Lookup   map[string]string `yaml:"Lookup"`
	JsonKeys []SecretJsonKey   `yaml:"JsonKeys"`
}

// SecretJsonKey exposes a single JSON key of a secret as its own binding.
type SecretJsonKey struct {
	SecretKey string `yaml:"SecretKey"`
	VarName   string `yaml:"VarName"`
}

// SharedResource is a shared backing resource (queue, table) that services
// access at a named level. The compiler turns the access levels into IAM
// policies from the static policy table.
type SharedResource struct {
	Kind     string // dynamodb, sqs
	Name     string
	ARN      string
	Services []ServiceAccess
}

// ServiceAccess grants one service an access level on a shared resource.
type ServiceAccess struct {
	Name   string `yaml:"name"`
	Access string `yaml:"access"` // RO, RW, PowerUser
}

// RdsDatabase is one x-rds entry: an existing database that services
// connect to. Consuming services get the credentials secret bound into
// their environment and an ingress rule into the database security group.
type RdsDatabase struct {
	Name          string          `yaml:"-"`
	Port          int             `yaml:"Port"`
	SecurityGroup AwsSource       `yaml:"SecurityGroup"`
	Secret        *SecretDef      `yaml:"Secret"`
	Services      []ServiceAccess `yaml:"Services"`
}

// SourceKind tags the variant of an ingress source.
type SourceKind string

const (
	SourceCIDR          SourceKind = "CIDR"
	SourceSecurityGroup SourceKind = "SecurityGroup"
	SourcePrefixList    SourceKind = "PrefixList"
	SourceSelf          SourceKind = "Self"
	SourceService       SourceKind = "Service"
)

// IngressSource is a tagged variant: exactly the field matching Kind is
// populated. SourceService references the security group of another
// compiled service by name.
type IngressSource struct {
	Kind            SourceKind
	CIDR            string
	SecurityGroupID string
	PrefixListID    string
	ServiceName     string
}

// IngressRule is one compiled allow-rule attached to the owner's security
// construct. GroupID set means the rule targets an existing external
// security group instead of one compiled into the template.
type IngressRule struct {
	Owner       string
	GroupID     string
	Source      IngressSource
	Protocol    string
	FromPort    int
	ToPort      int
	Description string
}

// HealthCheckSpec is the canonical health check record. Compact-string and
// structured-map inputs both normalize to this.
type HealthCheckSpec struct {
	Port               int
	Protocol           string
	HealthyThreshold   int
	UnhealthyThreshold int
	IntervalSeconds    int
	TimeoutSeconds     int
	Path               string
	ReturnCodes        string
}

// AttributeEntry is one normalized resource attribute.
type AttributeEntry struct {
	Key   string
	Value string
}

// TargetGroup is a compiled load balancer target group.
type TargetGroup struct {
	Name         string
	Family       string
	Service      string
	LoadBalancer string
	Port         int
	Protocol     string
	TargetType   string
	HealthCheck  HealthCheckSpec
	Attributes   []AttributeEntry
}

// AccessCondition matches requests by domain and/or path. An empty path
// matches all paths under the domain.
type AccessCondition struct {
	Domain string
	Path   string
}

// AuthActionKind discriminates listener authentication actions.
type AuthActionKind string

const (
	AuthCognito AuthActionKind = "authenticate-cognito"
	AuthOIDC    AuthActionKind = "authenticate-oidc"
)

// AuthAction runs before the forward action of a listener rule.
type AuthAction struct {
	Kind   AuthActionKind
	Config map[string]any
}

// ListenerRule forwards matching traffic to a target group.
type ListenerRule struct {
	TargetGroup string
	Condition   AccessCondition
	Auth        *AuthAction
	Priority    int
}

// Listener is a compiled load balancer listener.
type Listener struct {
	Name            string
	LoadBalancer    string
	Port            int
	Protocol        string
	SSLPolicy       string
	CertificateARNs []string
	Rules           []ListenerRule
}

// PolicyStatement is one IAM policy statement.
type PolicyStatement struct {
	Sid       string   `json:"Sid,omitempty"`
	Effect    string   `json:"Effect"`
	Actions   []string `json:"Action"`
	Resources []string `json:"Resource"`
}

// IAMPolicy is a compiled per-service IAM policy.
type IAMPolicy struct {
	Name       string
	Service    string
	Statements []PolicyStatement
}

// SecretBinding exposes one secret value to a service container.
type SecretBinding struct {
	Service   string
	Secret    string
	VarName   string
	ValueFrom string // secret ARN, optionally suffixed with a JSON key selector
}

// Warning is a non-fatal compilation finding. Warnings never fail a run
// but are always surfaced to the caller.
type Warning struct {
	Code    string
	Path    string
	Message string
}

// Warning codes.
const (
	WarnHealthCheckClamped  = "HealthCheckClamped"
	WarnNLBSettingCorrected = "NLBSettingCorrected"
	WarnDuplicateAttribute  = "DuplicateAttributeKey"
	WarnUnusedResource      = "UnusedResourcePruned"
	WarnDefaultApplied      = "DefaultApplied"
	WarnNoMatchingPorts     = "NoMatchingPorts"
)

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.Code, w.Path, w.Message)
}

// Template is the CloudFormation-shaped document handed to the serializer.
type Template struct {
	AWSTemplateFormatVersion string                 `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string                 `json:"Description,omitempty" yaml:"Description,omitempty"`
	Parameters               map[string]Parameter   `json:"Parameters,omitempty" yaml:"Parameters,omitempty"`
	Resources                map[string]ResourceDef `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output      `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// Parameter is a template input parameter.
type Parameter struct {
	Type          string   `json:"Type" yaml:"Type"`
	Description   string   `json:"Description,omitempty" yaml:"Description,omitempty"`
	Default       any      `json:"Default,omitempty" yaml:"Default,omitempty"`
	AllowedValues []string `json:"AllowedValues,omitempty" yaml:"AllowedValues,omitempty"`
}

// ResourceDef is a single resource in the emitted template.
type ResourceDef struct {
	Type       string         `json:"Type" yaml:"Type"`
	Properties map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn  []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
}

// Output is an emitted template output.
type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value"`
}

// ValidateResult is the JSON output of `composeforge validate`.
type ValidateResult struct {
	Success   bool     `json:"success"`
	Resources int      `json:"resources"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}
