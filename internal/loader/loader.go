// Package loader parses extended docker-compose files into the normalized
// document model.
//
// The loader handles the compose core (services, ports, secrets) plus the
// x-network, x-elbv2, x-rds, x-dynamodb and x-sqs extensions. It
// normalizes shapes only; semantic validation belongs to the compilers.
package loader

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	composeforge "github.com/compose-forge/composeforge"
)

// familyLabel is the deploy label that overrides the task family name.
const familyLabel = "ecs.task.family"

type rawFile struct {
	Services map[string]rawService                     `yaml:"services"`
	Secrets  map[string]rawSecret                      `yaml:"secrets"`
	Elbv2    map[string]*composeforge.LoadBalancerSpec `yaml:"x-elbv2"`
	DynamoDB map[string]rawSharedResource              `yaml:"x-dynamodb"`
	SQS      map[string]rawSharedResource              `yaml:"x-sqs"`
	Rds      map[string]*composeforge.RdsDatabase      `yaml:"x-rds"`
}

type rawService struct {
	Image   string                      `yaml:"image"`
	Ports   []any                       `yaml:"ports"`
	Secrets []string                    `yaml:"secrets"`
	Deploy  *rawDeploy                  `yaml:"deploy"`
	Network *composeforge.NetworkConfig `yaml:"x-network"`
}

type rawDeploy struct {
	Labels map[string]string `yaml:"labels"`
}

type rawSecret struct {
	External bool                    `yaml:"external"`
	XSecrets *composeforge.SecretDef `yaml:"x-secrets"`
}

type rawSharedResource struct {
	ARN      string                       `yaml:"Arn"`
	Services []composeforge.ServiceAccess `yaml:"Services"`
}

// Load reads and parses a compose file.
func Load(path string) (*composeforge.ComposeDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse builds the document model from compose file content.
func Parse(data []byte) (*composeforge.ComposeDocument, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Services) == 0 {
		return nil, composeforge.Validationf("services", "at least one service is required")
	}

	doc := &composeforge.ComposeDocument{
		Services:      make(map[string]*composeforge.ServiceDefinition, len(raw.Services)),
		LoadBalancers: make(map[string]*composeforge.LoadBalancerSpec, len(raw.Elbv2)),
		Secrets:       make(map[string]*composeforge.SecretDef, len(raw.Secrets)),
	}

	for name, svc := range raw.Services {
		parsed, err := parseService(name, svc)
		if err != nil {
			return nil, err
		}
		doc.Services[name] = parsed
	}

	for name, lb := range raw.Elbv2 {
		doc.LoadBalancers[name] = normalizeLoadBalancer(name, lb)
	}

	for name, secret := range raw.Secrets {
		if secret.XSecrets == nil {
			continue
		}
		doc.Secrets[name] = secret.XSecrets
	}

	doc.SharedResources = append(doc.SharedResources, parseSharedResources("dynamodb", raw.DynamoDB)...)
	doc.SharedResources = append(doc.SharedResources, parseSharedResources("sqs", raw.SQS)...)
	doc.Databases = parseDatabases(raw.Rds)

	return doc, nil
}

func parseDatabases(raw map[string]*composeforge.RdsDatabase) []*composeforge.RdsDatabase {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	databases := make([]*composeforge.RdsDatabase, 0, len(names))
	for _, name := range names {
		db := raw[name]
		db.Name = name
		databases = append(databases, db)
	}
	return databases
}

func parseService(name string, raw rawService) (*composeforge.ServiceDefinition, error) {
	svc := &composeforge.ServiceDefinition{
		Name:    name,
		Image:   raw.Image,
		Secrets: raw.Secrets,
		Network: raw.Network,
	}
	if raw.Deploy != nil {
		svc.Family = raw.Deploy.Labels[familyLabel]
	}

	for i, entry := range raw.Ports {
		port, err := parsePort(entry, fmt.Sprintf("services.%s.ports[%d]", name, i))
		if err != nil {
			return nil, err
		}
		svc.Ports = append(svc.Ports, port)
	}
	return svc, nil
}

// parsePort accepts the compose short syntax ("8080", "80:8080",
// "80:8080/udp") and the long map syntax.
func parsePort(entry any, path string) (composeforge.PortDef, error) {
	switch v := entry.(type) {
	case int:
		return composeforge.PortDef{Target: v, Published: v}, nil
	case string:
		return parsePortString(v, path)
	case map[string]any:
		return parsePortMap(v, path)
	default:
		return composeforge.PortDef{}, composeforge.Validationf(path, "unsupported port entry %T", entry)
	}
}

func parsePortString(s, path string) (composeforge.PortDef, error) {
	port := composeforge.PortDef{}

	if idx := strings.Index(s, "/"); idx >= 0 {
		port.Protocol = strings.ToLower(s[idx+1:])
		s = s[:idx]
	}

	published, target, found := strings.Cut(s, ":")
	if !found {
		target = published
	}
	t, err := strconv.Atoi(target)
	if err != nil {
		return port, composeforge.Validationf(path, "invalid target port %q", target)
	}
	port.Target = t

	p, err := strconv.Atoi(published)
	if err != nil {
		return port, composeforge.Validationf(path, "invalid published port %q", published)
	}
	port.Published = p
	return port, nil
}

func parsePortMap(m map[string]any, path string) (composeforge.PortDef, error) {
	port := composeforge.PortDef{}
	for key, value := range m {
		switch key {
		case "target", "published":
			n, ok := value.(int)
			if !ok {
				return port, composeforge.Validationf(path, "%s must be an integer", key)
			}
			if key == "target" {
				port.Target = n
			} else {
				port.Published = n
			}
		case "protocol":
			s, ok := value.(string)
			if !ok {
				return port, composeforge.Validationf(path, "protocol must be a string")
			}
			port.Protocol = strings.ToLower(s)
		case "mode":
			// Accepted and ignored; placement mode has no compilation effect.
		default:
			return port, composeforge.Validationf(path, "unknown port key %q", key)
		}
	}
	if port.Target == 0 {
		return port, composeforge.Validationf(path, "target port is required")
	}
	if port.Published == 0 {
		port.Published = port.Target
	}
	return port, nil
}

func normalizeLoadBalancer(name string, lb *composeforge.LoadBalancerSpec) *composeforge.LoadBalancerSpec {
	lb.Name = name

	// Type and Scheme may live under Properties in the CFN shape.
	if lb.Type == "" {
		if t, ok := lb.Properties["Type"].(string); ok {
			lb.Type = t
		}
	}
	if lb.Type == "" {
		lb.Type = "application"
	}
	if lb.Scheme == "" {
		if s, ok := lb.Properties["Scheme"].(string); ok {
			lb.Scheme = s
		}
	}
	return lb
}

func parseSharedResources(kind string, raw map[string]rawSharedResource) []*composeforge.SharedResource {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	resources := make([]*composeforge.SharedResource, 0, len(names))
	for _, name := range names {
		entry := raw[name]
		resources = append(resources, &composeforge.SharedResource{
			Kind:     kind,
			Name:     name,
			ARN:      entry.ARN,
			Services: entry.Services,
		})
	}
	return resources
}
