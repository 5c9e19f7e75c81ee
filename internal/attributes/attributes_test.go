package attributes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	composeforge "github.com/compose-forge/composeforge"
)

func TestNormalize_MapAndListFormsEquivalent(t *testing.T) {
	n := New(TargetGroupPolicy())

	fromMap, _, err := n.Normalize("tg", map[string]any{
		"deregistration_delay.timeout_seconds": "30",
		"stickiness.enabled":                   true,
	}, Application, nil)
	require.NoError(t, err)

	fromList, _, err := n.Normalize("tg", []any{
		map[string]any{"Key": "stickiness.enabled", "Value": "true"},
		map[string]any{"Key": "deregistration_delay.timeout_seconds", "Value": 30},
	}, Application, nil)
	require.NoError(t, err)

	assert.Equal(t, fromMap, fromList)
	assert.Equal(t, []composeforge.AttributeEntry{
		{Key: "deregistration_delay.timeout_seconds", Value: "30"},
		{Key: "stickiness.enabled", Value: "true"},
	}, fromList)
}

func TestNormalize_SortedByKey(t *testing.T) {
	n := New(TargetGroupPolicy())

	entries, _, err := n.Normalize("tg", []any{
		map[string]any{"Key": "stickiness.type", "Value": "lb_cookie"},
		map[string]any{"Key": "load_balancing.algorithm.type", "Value": "round_robin"},
		map[string]any{"Key": "deregistration_delay.timeout_seconds", "Value": "10"},
	}, Application, nil)
	require.NoError(t, err)

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{
		"deregistration_delay.timeout_seconds",
		"load_balancing.algorithm.type",
		"stickiness.type",
	}, keys)
}

func TestNormalize_ProxyProtocolOnALBRejected(t *testing.T) {
	n := New(TargetGroupPolicy())

	_, _, err := n.Normalize("tg", map[string]any{
		"proxy_protocol_v2.enabled": "true",
	}, Application, nil)
	var perr *composeforge.PolicyViolationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "proxy_protocol_v2.enabled", perr.Key)

	entries, _, err := n.Normalize("tg", map[string]any{
		"proxy_protocol_v2.enabled": "true",
	}, Network, nil)
	require.NoError(t, err)
	assert.Equal(t, []composeforge.AttributeEntry{{Key: "proxy_protocol_v2.enabled", Value: "true"}}, entries)
}

func TestNormalize_ValueDomains(t *testing.T) {
	n := New(TargetGroupPolicy())

	tests := []struct {
		name   string
		lbType LBType
		key    string
		value  string
		valid  bool
	}{
		{"dereg in range", Application, "deregistration_delay.timeout_seconds", "3600", true},
		{"dereg above range", Application, "deregistration_delay.timeout_seconds", "3601", false},
		{"slow start below range", Application, "slow_start.duration_seconds", "29", false},
		{"alb stickiness enum", Application, "stickiness.type", "app_cookie", true},
		{"nlb stickiness enum", Network, "stickiness.type", "lb_cookie", false},
		{"nlb source_ip", Network, "stickiness.type", "source_ip", true},
		{"reserved cookie name", Application, "stickiness.app_cookie.cookie_name", "AWSALBTG-x", false},
		{"custom cookie name", Application, "stickiness.app_cookie.cookie_name", "session-id", true},
		{"bool not boolish", Network, "preserve_client_ip.enabled", "yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := n.Normalize("tg", map[string]any{tt.key: tt.value}, tt.lbType, nil)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				var perr *composeforge.PolicyViolationError
				assert.ErrorAs(t, err, &perr)
			}
		})
	}
}

func TestNormalize_UnknownKeyRejected(t *testing.T) {
	n := New(TargetGroupPolicy())

	_, _, err := n.Normalize("tg", map[string]any{"nope.not_a_key": "1"}, Application, nil)
	var perr *composeforge.PolicyViolationError
	assert.ErrorAs(t, err, &perr)
}

func TestNormalize_DuplicateLastWriteWinsWithWarning(t *testing.T) {
	n := New(TargetGroupPolicy())

	entries, warnings, err := n.Normalize("tg", []any{
		map[string]any{"Key": "deregistration_delay.timeout_seconds", "Value": "10"},
		map[string]any{"Key": "deregistration_delay.timeout_seconds", "Value": "20"},
	}, Application, nil)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "20", entries[0].Value)
	require.Len(t, warnings, 1)
	assert.Equal(t, composeforge.WarnDuplicateAttribute, warnings[0].Code)
	assert.Contains(t, warnings[0].Message, `"20" wins`)
}

func TestNormalize_DefaultsAppliedWhenAbsent(t *testing.T) {
	n := New(TargetGroupPolicy())

	entries, warnings, err := n.Normalize("tg", nil, Application, DefaultTargetGroupAttributes())
	require.NoError(t, err)
	assert.Equal(t, []composeforge.AttributeEntry{
		{Key: "deregistration_delay.timeout_seconds", Value: "60"},
	}, entries)
	require.Len(t, warnings, 1)
	assert.Equal(t, composeforge.WarnDefaultApplied, warnings[0].Code)

	// Explicit value suppresses the default.
	entries, warnings, err = n.Normalize("tg", map[string]any{
		"deregistration_delay.timeout_seconds": "15",
	}, Application, DefaultTargetGroupAttributes())
	require.NoError(t, err)
	assert.Equal(t, "15", entries[0].Value)
	assert.Empty(t, warnings)
}
