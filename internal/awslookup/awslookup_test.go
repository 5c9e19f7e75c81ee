package awslookup

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-forge/composeforge/internal/resolver"
)

type fakeEC2 struct {
	sgPages []*ec2.DescribeSecurityGroupsOutput
	plPages []*ec2.DescribeManagedPrefixListsOutput

	sgInputs []*ec2.DescribeSecurityGroupsInput
	sgCalls  int
	plCalls  int
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, params *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.sgInputs = append(f.sgInputs, params)
	out := f.sgPages[f.sgCalls]
	f.sgCalls++
	return out, nil
}

func (f *fakeEC2) DescribeManagedPrefixLists(_ context.Context, _ *ec2.DescribeManagedPrefixListsInput, _ ...func(*ec2.Options)) (*ec2.DescribeManagedPrefixListsOutput, error) {
	out := f.plPages[f.plCalls]
	f.plCalls++
	return out, nil
}

type fakeACM struct {
	pages []*acm.ListCertificatesOutput
	calls int
}

func (f *fakeACM) ListCertificates(_ context.Context, _ *acm.ListCertificatesInput, _ ...func(*acm.Options)) (*acm.ListCertificatesOutput, error) {
	out := f.pages[f.calls]
	f.calls++
	return out, nil
}

type fakeSecrets struct {
	pages  []*secretsmanager.ListSecretsOutput
	inputs []*secretsmanager.ListSecretsInput
	calls  int
}

func (f *fakeSecrets) ListSecrets(_ context.Context, params *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.inputs = append(f.inputs, params)
	out := f.pages[f.calls]
	f.calls++
	return out, nil
}

func TestLookup_SecurityGroupsPaginated(t *testing.T) {
	ec2Fake := &fakeEC2{sgPages: []*ec2.DescribeSecurityGroupsOutput{
		{
			SecurityGroups: []ec2types.SecurityGroup{{GroupId: aws.String("sg-1")}},
			NextToken:      aws.String("page2"),
		},
		{
			SecurityGroups: []ec2types.SecurityGroup{{GroupId: aws.String("sg-2")}},
		},
	}}
	s := NewFromClients(ec2Fake, &fakeACM{}, &fakeSecrets{})

	ids, err := s.Lookup(context.Background(), resolver.KindSecurityGroup, map[string]string{"Name": "bastion"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sg-1", "sg-2"}, ids)
	assert.Equal(t, 2, ec2Fake.sgCalls)

	require.Len(t, ec2Fake.sgInputs[0].Filters, 1)
	assert.Equal(t, "tag:Name", aws.ToString(ec2Fake.sgInputs[0].Filters[0].Name))
	assert.Equal(t, []string{"bastion"}, ec2Fake.sgInputs[0].Filters[0].Values)
}

func TestLookup_PrefixLists(t *testing.T) {
	ec2Fake := &fakeEC2{plPages: []*ec2.DescribeManagedPrefixListsOutput{
		{PrefixLists: []ec2types.ManagedPrefixList{{PrefixListId: aws.String("pl-abc")}}},
	}}
	s := NewFromClients(ec2Fake, &fakeACM{}, &fakeSecrets{})

	ids, err := s.Lookup(context.Background(), resolver.KindPrefixList, map[string]string{"Name": "cloudfront"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pl-abc"}, ids)
}

func TestLookup_CertificatesByDomain(t *testing.T) {
	acmFake := &fakeACM{pages: []*acm.ListCertificatesOutput{
		{CertificateSummaryList: []acmtypes.CertificateSummary{
			{CertificateArn: aws.String("arn:cert/site"), DomainName: aws.String("example.com")},
			{CertificateArn: aws.String("arn:cert/other"), DomainName: aws.String("other.com")},
		}},
	}}
	s := NewFromClients(&fakeEC2{}, acmFake, &fakeSecrets{})

	arns, err := s.Lookup(context.Background(), resolver.KindCertificate, map[string]string{"Name": "example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:cert/site"}, arns)
}

func TestLookup_CertificatesRejectNonNameCriteria(t *testing.T) {
	s := NewFromClients(&fakeEC2{}, &fakeACM{}, &fakeSecrets{})

	_, err := s.Lookup(context.Background(), resolver.KindCertificate, map[string]string{"Environment": "prod"})
	assert.Error(t, err)
}

func TestLookup_SecretsByName(t *testing.T) {
	secretsFake := &fakeSecrets{pages: []*secretsmanager.ListSecretsOutput{
		{SecretList: []smtypes.SecretListEntry{{ARN: aws.String("arn:secret/db")}}},
	}}
	s := NewFromClients(&fakeEC2{}, &fakeACM{}, secretsFake)

	arns, err := s.Lookup(context.Background(), resolver.KindSecret, map[string]string{"Name": "prod/db"})
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:secret/db"}, arns)

	require.Len(t, secretsFake.inputs[0].Filters, 1)
	assert.Equal(t, smtypes.FilterNameStringTypeName, secretsFake.inputs[0].Filters[0].Key)
}

func TestLookup_SecretsByTags(t *testing.T) {
	secretsFake := &fakeSecrets{pages: []*secretsmanager.ListSecretsOutput{
		{SecretList: []smtypes.SecretListEntry{{ARN: aws.String("arn:secret/db")}}},
	}}
	s := NewFromClients(&fakeEC2{}, &fakeACM{}, secretsFake)

	_, err := s.Lookup(context.Background(), resolver.KindSecret, map[string]string{"Environment": "prod"})
	require.NoError(t, err)

	filters := secretsFake.inputs[0].Filters
	require.Len(t, filters, 2)
	assert.Equal(t, smtypes.FilterNameStringTypeTagKey, filters[0].Key)
	assert.Equal(t, smtypes.FilterNameStringTypeTagValue, filters[1].Key)
}

func TestLookup_UnsupportedKind(t *testing.T) {
	s := NewFromClients(&fakeEC2{}, &fakeACM{}, &fakeSecrets{})

	_, err := s.Lookup(context.Background(), resolver.RefKind("Volume"), map[string]string{"Name": "x"})
	assert.Error(t, err)
}
