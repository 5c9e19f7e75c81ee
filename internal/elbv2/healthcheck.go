// Package elbv2 compiles x-elbv2 load balancer definitions: target groups
// with health checks, and listeners with access conditions and
// authentication actions.
package elbv2

import (
	"fmt"
	"regexp"
	"strconv"

	composeforge "github.com/compose-forge/composeforge"
)

// Health check defaults, applied when the compact form omits the ping and
// path segments.
const (
	defaultHealthyThreshold   = 5
	defaultUnhealthyThreshold = 2
	defaultIntervalSeconds    = 30
	defaultTimeoutSeconds     = 5
)

// Clamp bounds per field. Out-of-range values are corrected to the nearest
// bound and reported as warnings, never as errors.
var healthCheckBounds = map[string][2]int{
	"HealthyThreshold":   {2, 10},
	"UnhealthyThreshold": {2, 10},
	"IntervalSeconds":    {2, 120},
	"TimeoutSeconds":     {2, 10},
}

// compactHealthCheck matches
// port:protocol(:healthy:unhealthy:interval:timeout(:path(:codes)?)?)?
var compactHealthCheck = regexp.MustCompile(
	`^(\d{2,5}):(HTTPS|HTTP|TCP_UDP|TCP|TLS|UDP)` +
		`(?::(\d+):(\d+):(\d+):(\d+))?` +
		`(?::(/[^:]*))?` +
		`(?::([\d,-]+))?$`)

var httpProtocols = map[string]bool{"HTTP": true, "HTTPS": true}

// nlbProtocols are the layer-4 protocols whose health checks need NLB
// corrections.
var nlbProtocols = map[string]bool{"TCP": true, "UDP": true, "TCP_UDP": true}

// ParseHealthCheck normalizes either the compact string or the structured
// map form into the canonical HealthCheckSpec. Both forms yield identical
// specs for equivalent content.
func ParseHealthCheck(path string, raw any) (composeforge.HealthCheckSpec, []composeforge.Warning, error) {
	switch v := raw.(type) {
	case string:
		return parseCompact(path, v)
	case map[string]any:
		return parseStructured(path, v)
	default:
		return composeforge.HealthCheckSpec{}, nil, composeforge.Validationf(path,
			"healthcheck must be a compact string or a map, got %T", raw)
	}
}

func parseCompact(path, raw string) (composeforge.HealthCheckSpec, []composeforge.Warning, error) {
	groups := compactHealthCheck.FindStringSubmatch(raw)
	if groups == nil {
		return composeforge.HealthCheckSpec{}, nil, composeforge.Validationf(path,
			"healthcheck %q does not match port:protocol(:healthy:unhealthy:interval:timeout(:path(:codes)?)?)?", raw)
	}

	port, _ := strconv.Atoi(groups[1])
	spec := composeforge.HealthCheckSpec{
		Port:               port,
		Protocol:           groups[2],
		HealthyThreshold:   defaultHealthyThreshold,
		UnhealthyThreshold: defaultUnhealthyThreshold,
		IntervalSeconds:    defaultIntervalSeconds,
		TimeoutSeconds:     defaultTimeoutSeconds,
	}

	var warnings []composeforge.Warning
	if groups[3] != "" {
		for i, field := range []string{"HealthyThreshold", "UnhealthyThreshold", "IntervalSeconds", "TimeoutSeconds"} {
			value, _ := strconv.Atoi(groups[3+i])
			clamped, w := clamp(path, field, value)
			warnings = append(warnings, w...)
			setField(&spec, field, clamped)
		}
	}

	spec.Path = groups[7]
	spec.ReturnCodes = groups[8]

	if err := validateCodes(path, spec); err != nil {
		return composeforge.HealthCheckSpec{}, nil, err
	}
	return spec, warnings, nil
}

func parseStructured(path string, raw map[string]any) (composeforge.HealthCheckSpec, []composeforge.Warning, error) {
	spec := composeforge.HealthCheckSpec{
		HealthyThreshold:   defaultHealthyThreshold,
		UnhealthyThreshold: defaultUnhealthyThreshold,
		IntervalSeconds:    defaultIntervalSeconds,
		TimeoutSeconds:     defaultTimeoutSeconds,
	}

	port, err := intKey(raw, "HealthCheckPort")
	if err != nil {
		return spec, nil, composeforge.Validationf(path, "%v", err)
	}
	spec.Port = port

	protocol, _ := raw["HealthCheckProtocol"].(string)
	if spec.Port == 0 || protocol == "" {
		return spec, nil, composeforge.Validationf(path,
			"HealthCheckPort and HealthCheckProtocol are required")
	}
	spec.Protocol = protocol

	var warnings []composeforge.Warning
	for _, m := range []struct{ key, field string }{
		{"HealthyThresholdCount", "HealthyThreshold"},
		{"UnhealthyThresholdCount", "UnhealthyThreshold"},
		{"HealthCheckIntervalSeconds", "IntervalSeconds"},
		{"HealthCheckTimeoutSeconds", "TimeoutSeconds"},
	} {
		key, field := m.key, m.field
		if _, present := raw[key]; !present {
			continue
		}
		value, err := intKey(raw, key)
		if err != nil {
			return spec, nil, composeforge.Validationf(path, "%v", err)
		}
		clamped, w := clamp(path, field, value)
		warnings = append(warnings, w...)
		setField(&spec, field, clamped)
	}

	if p, ok := raw["HealthCheckPath"].(string); ok {
		spec.Path = p
	}
	if matcher, ok := raw["Matcher"].(map[string]any); ok {
		if codes, ok := matcher["HttpCode"].(string); ok {
			spec.ReturnCodes = codes
		}
	}

	if err := validateCodes(path, spec); err != nil {
		return composeforge.HealthCheckSpec{}, nil, err
	}
	return spec, warnings, nil
}

// FixNLBHealthCheck corrects settings NLB target groups do not accept:
// intervals other than 10 or 30, explicit timeouts, and asymmetric
// healthy/unhealthy counts. Each correction is a warning.
func FixNLBHealthCheck(path string, spec composeforge.HealthCheckSpec) (composeforge.HealthCheckSpec, []composeforge.Warning) {
	if !nlbProtocols[spec.Protocol] {
		return spec, nil
	}

	var warnings []composeforge.Warning

	if spec.TimeoutSeconds != 0 {
		warnings = append(warnings, composeforge.Warning{
			Code:    composeforge.WarnNLBSettingCorrected,
			Path:    path,
			Message: "NLB health checks do not accept a timeout, resetting",
		})
		spec.TimeoutSeconds = 0
	}

	if spec.IntervalSeconds != 10 && spec.IntervalSeconds != 30 {
		snapped := 10
		if abs(spec.IntervalSeconds-30) < abs(spec.IntervalSeconds-10) {
			snapped = 30
		}
		warnings = append(warnings, composeforge.Warning{
			Code:    composeforge.WarnNLBSettingCorrected,
			Path:    path,
			Message: fmt.Sprintf("NLB intervals must be 10 or 30, snapping %d to %d", spec.IntervalSeconds, snapped),
		})
		spec.IntervalSeconds = snapped
	}

	if spec.HealthyThreshold != spec.UnhealthyThreshold {
		value := max(spec.HealthyThreshold, spec.UnhealthyThreshold)
		warnings = append(warnings, composeforge.Warning{
			Code:    composeforge.WarnNLBSettingCorrected,
			Path:    path,
			Message: fmt.Sprintf("NLB healthy and unhealthy counts must match, using %d", value),
		})
		spec.HealthyThreshold = value
		spec.UnhealthyThreshold = value
	}

	return spec, warnings
}

func validateCodes(path string, spec composeforge.HealthCheckSpec) error {
	if spec.ReturnCodes != "" && !httpProtocols[spec.Protocol] {
		return composeforge.Validationf(path,
			"return codes are only valid for HTTP and HTTPS health checks, protocol is %s", spec.Protocol)
	}
	return nil
}

func clamp(path, field string, value int) (int, []composeforge.Warning) {
	bounds := healthCheckBounds[field]
	clamped := value
	if clamped < bounds[0] {
		clamped = bounds[0]
	}
	if clamped > bounds[1] {
		clamped = bounds[1]
	}
	if clamped == value {
		return value, nil
	}
	return clamped, []composeforge.Warning{{
		Code:    composeforge.WarnHealthCheckClamped,
		Path:    path,
		Message: fmt.Sprintf("%s %d out of range [%d, %d], clamped to %d", field, value, bounds[0], bounds[1], clamped),
	}}
}

func setField(spec *composeforge.HealthCheckSpec, field string, value int) {
	switch field {
	case "HealthyThreshold":
		spec.HealthyThreshold = value
	case "UnhealthyThreshold":
		spec.UnhealthyThreshold = value
	case "IntervalSeconds":
		spec.IntervalSeconds = value
	case "TimeoutSeconds":
		spec.TimeoutSeconds = value
	}
}

func intKey(raw map[string]any, key string) (int, error) {
	switch v := raw[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: expected integer, got %T", key, raw[key])
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
