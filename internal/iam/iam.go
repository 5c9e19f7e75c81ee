// Package iam turns shared-resource access grants into per-service IAM
// policies. The action sets per resource kind and access level live in an
// embedded table rather than in code.
package iam

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	composeforge "github.com/compose-forge/composeforge"
)

//go:embed policies.json
var policiesJSON []byte

// policyTable maps resource kind -> access level -> allowed actions.
type policyTable map[string]map[string][]string

var table = mustLoadTable()

func mustLoadTable() policyTable {
	var t policyTable
	if err := json.Unmarshal(policiesJSON, &t); err != nil {
		panic(fmt.Sprintf("iam: embedded policy table is invalid: %v", err))
	}
	return t
}

// AccessLevels returns the access levels defined for a resource kind,
// sorted, or nil for an unknown kind.
func AccessLevels(kind string) []string {
	levels := make([]string, 0, len(table[kind]))
	for level := range table[kind] {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	return levels
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Compile produces one IAM policy per service access grant on the shared
// resource. Output order follows the sorted service names.
func Compile(resource *composeforge.SharedResource) ([]composeforge.IAMPolicy, error) {
	path := fmt.Sprintf("x-%s.%s", resource.Kind, resource.Name)

	levels, ok := table[resource.Kind]
	if !ok {
		return nil, composeforge.Validationf(path, "unsupported shared resource kind %q", resource.Kind)
	}
	if resource.ARN == "" {
		return nil, composeforge.Validationf(path, "shared resource requires an Arn")
	}

	grants := append([]composeforge.ServiceAccess(nil), resource.Services...)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Name < grants[j].Name })

	policies := make([]composeforge.IAMPolicy, 0, len(grants))
	for _, grant := range grants {
		actions, ok := levels[grant.Access]
		if !ok {
			return nil, composeforge.Validationf(path,
				"service %s requests unknown access level %q, valid levels are %s",
				grant.Name, grant.Access, strings.Join(AccessLevels(resource.Kind), ", "))
		}

		policies = append(policies, composeforge.IAMPolicy{
			Name:    policyName(grant.Name, resource, grant.Access),
			Service: grant.Name,
			Statements: []composeforge.PolicyStatement{{
				Sid:       sanitize(resource.Name) + grant.Access,
				Effect:    "Allow",
				Actions:   append([]string(nil), actions...),
				Resources: policyResources(resource),
			}},
		})
	}
	return policies, nil
}

func policyName(service string, resource *composeforge.SharedResource, level string) string {
	return sanitize(service) + sanitize(resource.Kind) + sanitize(resource.Name) + level
}

// policyResources returns the ARNs a statement applies to. DynamoDB grants
// cover the table's indexes as well.
func policyResources(resource *composeforge.SharedResource) []string {
	arns := []string{resource.ARN}
	if resource.Kind == "dynamodb" {
		arns = append(arns, resource.ARN+"/index/*")
	}
	return arns
}

func sanitize(s string) string {
	return nonAlphaNum.ReplaceAllString(s, "")
}
