// Package awslookup implements the resolver lookup contract against live
// AWS APIs: EC2 for security groups and prefix lists, ACM for
// certificates and Secrets Manager for secrets.
package awslookup

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/compose-forge/composeforge/internal/resolver"
)

// EC2API is the subset of the EC2 client the lookup service calls.
type EC2API interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeManagedPrefixLists(ctx context.Context, params *ec2.DescribeManagedPrefixListsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeManagedPrefixListsOutput, error)
}

// ACMAPI is the subset of the ACM client the lookup service calls.
type ACMAPI interface {
	ListCertificates(ctx context.Context, params *acm.ListCertificatesInput, optFns ...func(*acm.Options)) (*acm.ListCertificatesOutput, error)
}

// SecretsAPI is the subset of the Secrets Manager client the lookup
// service calls.
type SecretsAPI interface {
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// Service resolves lookup criteria against AWS.
type Service struct {
	ec2     EC2API
	acm     ACMAPI
	secrets SecretsAPI
}

// New creates a Service from an AWS SDK config.
func New(cfg aws.Config) *Service {
	return &Service{
		ec2:     ec2.NewFromConfig(cfg),
		acm:     acm.NewFromConfig(cfg),
		secrets: secretsmanager.NewFromConfig(cfg),
	}
}

// NewFromClients creates a Service from explicit clients. Tests inject
// fakes through this.
func NewFromClients(ec2Client EC2API, acmClient ACMAPI, secretsClient SecretsAPI) *Service {
	return &Service{ec2: ec2Client, acm: acmClient, secrets: secretsClient}
}

// Lookup implements resolver.LookupService.
func (s *Service) Lookup(ctx context.Context, kind resolver.RefKind, tags map[string]string) ([]string, error) {
	switch kind {
	case resolver.KindSecurityGroup:
		return s.lookupSecurityGroups(ctx, tags)
	case resolver.KindPrefixList:
		return s.lookupPrefixLists(ctx, tags)
	case resolver.KindCertificate:
		return s.lookupCertificates(ctx, tags)
	case resolver.KindSecret:
		return s.lookupSecrets(ctx, tags)
	default:
		return nil, fmt.Errorf("awslookup: unsupported reference kind %q", kind)
	}
}

func (s *Service) lookupSecurityGroups(ctx context.Context, tags map[string]string) ([]string, error) {
	input := &ec2.DescribeSecurityGroupsInput{Filters: tagFilters(tags)}

	var ids []string
	for {
		out, err := s.ec2.DescribeSecurityGroups(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describing security groups: %w", err)
		}
		for _, group := range out.SecurityGroups {
			ids = append(ids, aws.ToString(group.GroupId))
		}
		if out.NextToken == nil {
			return ids, nil
		}
		input.NextToken = out.NextToken
	}
}

func (s *Service) lookupPrefixLists(ctx context.Context, tags map[string]string) ([]string, error) {
	input := &ec2.DescribeManagedPrefixListsInput{Filters: tagFilters(tags)}

	var ids []string
	for {
		out, err := s.ec2.DescribeManagedPrefixLists(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describing prefix lists: %w", err)
		}
		for _, list := range out.PrefixLists {
			ids = append(ids, aws.ToString(list.PrefixListId))
		}
		if out.NextToken == nil {
			return ids, nil
		}
		input.NextToken = out.NextToken
	}
}

// lookupCertificates matches issued certificates by domain name. ACM has
// no server-side tag filter, so only the Name criterion is supported.
func (s *Service) lookupCertificates(ctx context.Context, tags map[string]string) ([]string, error) {
	name, ok := tags["Name"]
	if !ok || len(tags) != 1 {
		return nil, fmt.Errorf("awslookup: certificate lookups support only the Name criterion, got %v", tags)
	}

	input := &acm.ListCertificatesInput{}
	var arns []string
	for {
		out, err := s.acm.ListCertificates(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing certificates: %w", err)
		}
		for _, cert := range out.CertificateSummaryList {
			if aws.ToString(cert.DomainName) == name {
				arns = append(arns, aws.ToString(cert.CertificateArn))
			}
		}
		if out.NextToken == nil {
			return arns, nil
		}
		input.NextToken = out.NextToken
	}
}

func (s *Service) lookupSecrets(ctx context.Context, tags map[string]string) ([]string, error) {
	var filters []smtypes.Filter
	for _, key := range sortedKeys(tags) {
		value := tags[key]
		if key == "Name" {
			filters = append(filters, smtypes.Filter{
				Key:    smtypes.FilterNameStringTypeName,
				Values: []string{value},
			})
			continue
		}
		filters = append(filters,
			smtypes.Filter{Key: smtypes.FilterNameStringTypeTagKey, Values: []string{key}},
			smtypes.Filter{Key: smtypes.FilterNameStringTypeTagValue, Values: []string{value}},
		)
	}

	input := &secretsmanager.ListSecretsInput{Filters: filters}
	var arns []string
	for {
		out, err := s.secrets.ListSecrets(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing secrets: %w", err)
		}
		for _, secret := range out.SecretList {
			arns = append(arns, aws.ToString(secret.ARN))
		}
		if out.NextToken == nil {
			return arns, nil
		}
		input.NextToken = out.NextToken
	}
}

// tagFilters converts lookup criteria to EC2 tag filters in sorted key
// order, so request shapes are stable.
func tagFilters(tags map[string]string) []ec2types.Filter {
	keys := sortedKeys(tags)
	filters := make([]ec2types.Filter, 0, len(keys))
	for _, key := range keys {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("tag:" + key),
			Values: []string{tags[key]},
		})
	}
	return filters
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
