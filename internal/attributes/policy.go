package attributes

import (
	"regexp"
	"strconv"

	composeforge "github.com/compose-forge/composeforge"
)

// reservedCookiePrefix matches cookie names AWS reserves for itself.
var reservedCookiePrefix = regexp.MustCompile(`^AWSALB.*$|^AWSALBAPP.*|^AWSALBTG.*$`)

func boolValue(v string) bool { return v == "true" || v == "false" }

func intRange(min, max int) Validator {
	return func(v string) bool {
		n, err := strconv.Atoi(v)
		return err == nil && n >= min && n <= max
	}
}

func oneOf(values ...string) Validator {
	return func(v string) bool {
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

// TargetGroupPolicy is the allowed-value table for target group
// attributes, per load balancer type.
func TargetGroupPolicy() Policy {
	return Policy{
		"deregistration_delay.timeout_seconds": {
			Application: intRange(0, 3600),
			Network:     intRange(0, 3600),
		},
		"stickiness.enabled": {
			Application: boolValue,
			Network:     boolValue,
		},
		"stickiness.type": {
			Application: oneOf("lb_cookie", "app_cookie"),
			Network:     oneOf("source_ip"),
		},
		"stickiness.app_cookie.cookie_name": {
			Application: func(v string) bool { return v != "" && !reservedCookiePrefix.MatchString(v) },
		},
		"stickiness.app_cookie.duration_seconds": {
			Application: intRange(1, 604800),
		},
		"stickiness.lb_cookie.duration_seconds": {
			Application: intRange(1, 604800),
		},
		"load_balancing.algorithm.type": {
			Application: oneOf("round_robin", "least_outstanding_requests"),
		},
		"slow_start.duration_seconds": {
			Application: intRange(30, 900),
		},
		"deregistration_delay.connection_termination.enabled": {
			Network: boolValue,
		},
		"preserve_client_ip.enabled": {
			Network: boolValue,
		},
		"proxy_protocol_v2.enabled": {
			Network: boolValue,
		},
	}
}

// DefaultTargetGroupAttributes are appended when the document does not set
// them.
func DefaultTargetGroupAttributes() []composeforge.AttributeEntry {
	return []composeforge.AttributeEntry{
		{Key: "deregistration_delay.timeout_seconds", Value: "60"},
	}
}
