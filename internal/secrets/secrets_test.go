package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	composeforge "github.com/compose-forge/composeforge"
	"github.com/compose-forge/composeforge/internal/resolver"
)

const dbSecretARN = "arn:aws:secretsmanager:eu-west-1:123456789012:secret:db-credentials-AbCdEf"

type secretLookup map[string][]string

func (s secretLookup) Lookup(_ context.Context, kind resolver.RefKind, tags map[string]string) ([]string, error) {
	return s[tags["Name"]], nil
}

func TestCompile_LiteralARN(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	bindings, err := c.Compile(context.Background(), "db-credentials", &composeforge.SecretDef{
		Name: dbSecretARN,
	}, []string{"app01"})
	require.NoError(t, err)

	require.Len(t, bindings, 1)
	assert.Equal(t, composeforge.SecretBinding{
		Service:   "app01",
		Secret:    "db-credentials",
		VarName:   "db-credentials",
		ValueFrom: dbSecretARN,
	}, bindings[0])
}

func TestCompile_NameBecomesLookup(t *testing.T) {
	c := New(resolver.New(secretLookup{"db-credentials": {dbSecretARN}}))

	bindings, err := c.Compile(context.Background(), "db-credentials", &composeforge.SecretDef{
		Name: "db-credentials",
	}, []string{"app01"})
	require.NoError(t, err)
	assert.Equal(t, dbSecretARN, bindings[0].ValueFrom)
}

func TestCompile_ExplicitLookup(t *testing.T) {
	c := New(resolver.New(secretLookup{"prod/db": {dbSecretARN}}))

	bindings, err := c.Compile(context.Background(), "db-credentials", &composeforge.SecretDef{
		Lookup: map[string]string{"Name": "prod/db"},
	}, []string{"app01"})
	require.NoError(t, err)
	assert.Equal(t, dbSecretARN, bindings[0].ValueFrom)
}

func TestCompile_JsonKeysExpand(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	bindings, err := c.Compile(context.Background(), "db-credentials", &composeforge.SecretDef{
		Name: dbSecretARN,
		JsonKeys: []composeforge.SecretJsonKey{
			{SecretKey: "username", VarName: "DB_USER"},
			{SecretKey: "password"},
		},
	}, []string{"app01"})
	require.NoError(t, err)

	require.Len(t, bindings, 2)
	assert.Equal(t, "DB_USER", bindings[0].VarName)
	assert.Equal(t, dbSecretARN+":username::", bindings[0].ValueFrom)

	// VarName defaults to the JSON key.
	assert.Equal(t, "password", bindings[1].VarName)
	assert.Equal(t, dbSecretARN+":password::", bindings[1].ValueFrom)
}

func TestCompile_MultipleServicesSorted(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	bindings, err := c.Compile(context.Background(), "db-credentials", &composeforge.SecretDef{
		Name: dbSecretARN,
	}, []string{"worker", "app01"})
	require.NoError(t, err)

	require.Len(t, bindings, 2)
	assert.Equal(t, "app01", bindings[0].Service)
	assert.Equal(t, "worker", bindings[1].Service)
}

func TestCompile_NameAndLookupRejected(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	_, err := c.Compile(context.Background(), "bad", &composeforge.SecretDef{
		Name:   "db",
		Lookup: map[string]string{"Name": "db"},
	}, []string{"app01"})
	var verr *composeforge.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCompile_NeitherNameNorLookupRejected(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	_, err := c.Compile(context.Background(), "bad", &composeforge.SecretDef{}, []string{"app01"})
	var verr *composeforge.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCompile_EmptyJsonKeyRejected(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	_, err := c.Compile(context.Background(), "bad", &composeforge.SecretDef{
		Name:     dbSecretARN,
		JsonKeys: []composeforge.SecretJsonKey{{VarName: "X"}},
	}, []string{"app01"})
	var verr *composeforge.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCompile_UnresolvedSecret(t *testing.T) {
	c := New(resolver.New(secretLookup{}))

	_, err := c.Compile(context.Background(), "db-credentials", &composeforge.SecretDef{
		Name: "db-credentials",
	}, []string{"app01"})
	var uerr *composeforge.UnresolvedReferenceError
	assert.ErrorAs(t, err, &uerr)
}

func TestCollectRefs_SortedByName(t *testing.T) {
	refs := CollectRefs(map[string]*composeforge.SecretDef{
		"zeta":  {Name: "zeta"},
		"alpha": {Name: "alpha"},
	})

	require.Len(t, refs, 2)
	assert.Equal(t, "secrets.alpha", refs[0].Path)
	assert.Equal(t, "secrets.zeta", refs[1].Path)
}
