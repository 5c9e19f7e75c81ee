package ingress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/resolver"
)

type staticLookup map[string][]string

func (s staticLookup) Lookup(_ context.Context, kind resolver.RefKind, tags map[string]string) ([]string, error) {
	return s[tags["Name"]], nil
}

func webOwner() Owner {
	return Owner{
		Name: "web",
		Path: "services.web.x-network.Ingress",
		Ports: []composeforge.PortDef{
			{Target: 80, Published: 80, Protocol: "tcp"},
			{Target: 443, Published: 443, Protocol: "tcp"},
		},
	}
}

func TestCompile_ExtSources(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	block := &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{
			{IPv4: "0.0.0.0/0", Name: "ANY", Description: "public"},
		},
	}

	rules, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Empty(t, errs)
	require.Len(t, rules, 2)

	assert.Equal(t, composeforge.SourceCIDR, rules[0].Source.Kind)
	assert.Equal(t, "0.0.0.0/0", rules[0].Source.CIDR)
	assert.Equal(t, 80, rules[0].FromPort)
	assert.Equal(t, "tcp", rules[0].Protocol)
	assert.Equal(t, 443, rules[1].FromPort)
	assert.Equal(t, "public", rules[1].Description)
}

func TestCompile_ExtSourceNameSanitized(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	block := &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{
			{IPv4: "10.0.0.0/8", SourceName: "corp-office (eu)!"},
		},
	}

	rules, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Empty(t, errs)
	require.NotEmpty(t, rules)
	assert.Equal(t, "From corpofficeeu to web", rules[0].Description)
}

func TestCompile_ExtSourceMissingNameGetsPlaceholder(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	block := &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{{IPv4: "0.0.0.0/0"}},
	}

	rules, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Empty(t, errs)
	assert.Equal(t, "From all to web", rules[0].Description)
}

func TestCompile_ExtSourceRequiresValidCIDR(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	for _, bad := range []composeforge.ExtSource{
		{},                       // missing IPv4
		{IPv4: "10.0.0.1"},       // bare address
		{IPv4: "300.0.0.0/8"},    // invalid octet
		{IPv4: "10.0.0.0/8/24"},  // garbage
	} {
		_, _, errs := c.Compile(context.Background(), &composeforge.IngressBlock{
			ExtSources: []composeforge.ExtSource{bad},
		}, webOwner())
		require.Len(t, errs, 1)
		var verr *composeforge.ValidationError
		assert.ErrorAs(t, errs[0], &verr)
	}
}

func TestCompile_ExtSourcePortRestriction(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	block := &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{
			{IPv4: "192.168.0.0/16", Ports: []int{443}},
		},
	}

	rules, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Empty(t, errs)
	require.Len(t, rules, 1)
	assert.Equal(t, 443, rules[0].FromPort)
}

func TestCompile_AwsSourceLiteralAndLookup(t *testing.T) {
	c := New(resolver.New(staticLookup{"bastion": {"sg-0f00ba4"}}))

	block := &composeforge.IngressBlock{
		AwsSources: []composeforge.AwsSource{
			{Type: "SecurityGroup", ID: "sg-0123abcd"},
			{Type: "SecurityGroup", Lookup: map[string]string{"Name": "bastion"}},
			{Type: "PrefixList", ID: "pl-6ca54005"},
		},
	}

	rules, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Empty(t, errs)
	require.Len(t, rules, 6) // 3 sources x 2 ports

	assert.Equal(t, composeforge.SourceSecurityGroup, rules[0].Source.Kind)
	assert.Equal(t, "sg-0123abcd", rules[0].Source.SecurityGroupID)
	assert.Equal(t, "sg-0f00ba4", rules[2].Source.SecurityGroupID)
	assert.Equal(t, composeforge.SourcePrefixList, rules[4].Source.Kind)
	assert.Equal(t, "pl-6ca54005", rules[4].Source.PrefixListID)
}

func TestCompile_AwsSourceBothIdAndLookupRejected(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	block := &composeforge.IngressBlock{
		AwsSources: []composeforge.AwsSource{
			{Type: "SecurityGroup", ID: "sg-0123abcd", Lookup: map[string]string{"Name": "x"}},
		},
	}

	_, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Len(t, errs, 1)
	var verr *composeforge.ValidationError
	assert.ErrorAs(t, errs[0], &verr)
}

func TestCompile_AwsSourceUnknownTypeRejected(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	block := &composeforge.IngressBlock{
		AwsSources: []composeforge.AwsSource{{Type: "Subnet", ID: "subnet-1"}},
	}

	_, _, errs := c.Compile(context.Background(), block, webOwner())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "SecurityGroup or PrefixList")
}

func TestCompile_MyselfOneRulePerDistinctPort(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	owner := webOwner()
	// Duplicate port target must not produce a duplicate self rule.
	owner.Ports = append(owner.Ports, composeforge.PortDef{Target: 80, Published: 8080, Protocol: "tcp"})

	block := &composeforge.IngressBlock{Myself: true}

	first, _, errs := c.Compile(context.Background(), block, owner)
	require.Empty(t, errs)
	require.Len(t, first, 2)
	assert.Equal(t, composeforge.SourceSelf, first[0].Source.Kind)
	assert.Equal(t, composeforge.SourceSelf, first[1].Source.Kind)

	// Idempotence: a second compilation yields the identical rule set.
	second, _, errs := c.Compile(context.Background(), block, owner)
	require.Empty(t, errs)
	assert.Equal(t, first, second)
}

func TestCompile_NLBOwnerRejected(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	owner := Owner{
		Name:   "public-nlb",
		Path:   "x-elbv2.public-nlb.Ingress",
		Ports:  []composeforge.PortDef{{Target: 443}},
		LBType: "network",
	}

	_, _, errs := c.Compile(context.Background(), &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{{IPv4: "0.0.0.0/0"}},
	}, owner)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "service x-network")
}

func TestCompile_ALBOwnerAccepted(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	owner := Owner{
		Name:   "public-alb",
		Path:   "x-elbv2.public-alb.Ingress",
		Ports:  []composeforge.PortDef{{Target: 443}},
		LBType: "application",
	}

	rules, _, errs := c.Compile(context.Background(), &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{{IPv4: "0.0.0.0/0"}},
	}, owner)
	require.Empty(t, errs)
	assert.Len(t, rules, 1)
}

func TestCompile_ProtocolDefaultsToTCP(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	owner := Owner{
		Name:  "dns",
		Path:  "services.dns.x-network.Ingress",
		Ports: []composeforge.PortDef{{Target: 53}, {Target: 53, Protocol: "udp"}},
	}

	rules, _, errs := c.Compile(context.Background(), &composeforge.IngressBlock{Myself: true}, owner)
	require.Empty(t, errs)
	require.Len(t, rules, 1)
	assert.Equal(t, "tcp", rules[0].Protocol)
}

func TestCompile_SourceWithoutMatchingPortsWarns(t *testing.T) {
	c := New(resolver.New(staticLookup{}))

	// Owner declares no ports at all.
	portless := Owner{Name: "batch", Path: "services.batch.x-network.Ingress"}
	rules, warnings, errs := c.Compile(context.Background(), &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{{IPv4: "0.0.0.0/0"}},
		Myself:     true,
	}, portless)
	require.Empty(t, errs)
	assert.Empty(t, rules)
	require.Len(t, warnings, 2)
	assert.Equal(t, composeforge.WarnNoMatchingPorts, warnings[0].Code)
	assert.Equal(t, "services.batch.x-network.Ingress.ExtSources[0]", warnings[0].Path)
	assert.Equal(t, "services.batch.x-network.Ingress.Myself", warnings[1].Path)

	// Port restriction that matches none of the declared ports.
	rules, warnings, errs = c.Compile(context.Background(), &composeforge.IngressBlock{
		ExtSources: []composeforge.ExtSource{
			{IPv4: "192.168.0.0/16", Ports: []int{9999}},
		},
	}, webOwner())
	require.Empty(t, errs)
	assert.Empty(t, rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, composeforge.WarnNoMatchingPorts, warnings[0].Code)
}

func TestCollectRefs(t *testing.T) {
	block := &composeforge.IngressBlock{
		AwsSources: []composeforge.AwsSource{
			{Type: "SecurityGroup", Lookup: map[string]string{"Name": "a"}},
			{Type: "PrefixList", ID: "pl-1"},
		},
	}

	refs := CollectRefs(block, "services.web.x-network.Ingress")
	require.Len(t, refs, 2)
	assert.Equal(t, resolver.KindSecurityGroup, refs[0].Kind)
	assert.Equal(t, "services.web.x-network.Ingress.AwsSources[0]", refs[0].Path)
	assert.Equal(t, "pl-1", refs[1].ID)

	assert.Nil(t, CollectRefs(nil, "p"))
}
