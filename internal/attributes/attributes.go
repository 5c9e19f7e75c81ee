// Package attributes normalizes shorthand attribute lists into canonical
// ordered key/value entries, validated against a per-resource-type policy
// table.
//
// Input may be a map (order-randomized by the parser) or a list of
// {Key, Value} pairs. Output is always sorted by key so emission is
// reproducible. Duplicate keys resolve last-write-wins with a warning
// naming the winner.
package attributes

import (
	"fmt"
	"sort"
	"strconv"

	composeforge "github.com/compose-forge/composeforge"
)

// LBType is the load balancer type an attribute policy applies to.
type LBType string

const (
	Application LBType = "application"
	Network     LBType = "network"
)

// Validator checks a single attribute value.
type Validator func(value string) bool

// Policy is the immutable allowed-value table for one resource type,
// keyed by attribute key then load balancer type. A key missing for a
// given LB type means the attribute is incompatible with that type.
type Policy map[string]map[LBType]Validator

// Normalizer validates and orders attribute input against a policy.
type Normalizer struct {
	policy Policy
}

// New creates a Normalizer over the given policy table.
func New(policy Policy) *Normalizer {
	return &Normalizer{policy: policy}
}

// Normalize converts attribute input (map or list form) into a sorted
// entry list. Entries in defaults are appended when their key is absent
// from the input.
func (n *Normalizer) Normalize(path string, input any, lbType LBType, defaults []composeforge.AttributeEntry) ([]composeforge.AttributeEntry, []composeforge.Warning, error) {
	entries, warnings, err := coerce(path, input)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Key] = true
	}
	for _, def := range defaults {
		if !seen[def.Key] {
			entries = append(entries, def)
			warnings = append(warnings, composeforge.Warning{
				Code:    composeforge.WarnDefaultApplied,
				Path:    path,
				Message: fmt.Sprintf("%s defaulted to %q", def.Key, def.Value),
			})
		}
	}

	for _, e := range entries {
		byType, known := n.policy[e.Key]
		if !known {
			return nil, nil, &composeforge.PolicyViolationError{
				Path: path, Key: e.Key, LBType: string(lbType),
				Message: "unknown attribute key",
			}
		}
		validate, allowed := byType[lbType]
		if !allowed {
			return nil, nil, &composeforge.PolicyViolationError{
				Path: path, Key: e.Key, LBType: string(lbType),
				Message: "attribute is only valid for the other load balancer type",
			}
		}
		if !validate(e.Value) {
			return nil, nil, &composeforge.PolicyViolationError{
				Path: path, Key: e.Key, LBType: string(lbType),
				Message: fmt.Sprintf("value %q out of allowed domain", e.Value),
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, warnings, nil
}

// coerce turns either input form into entries, resolving duplicates
// last-write-wins.
func coerce(path string, input any) ([]composeforge.AttributeEntry, []composeforge.Warning, error) {
	var ordered []composeforge.AttributeEntry

	switch v := input.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ordered = append(ordered, composeforge.AttributeEntry{Key: k, Value: stringify(v[k])})
		}
	case []any:
		for i, raw := range v {
			pair, ok := raw.(map[string]any)
			if !ok {
				return nil, nil, composeforge.Validationf(path, "attribute entry %d is not a Key/Value pair", i)
			}
			key, ok := pair["Key"].(string)
			if !ok || key == "" {
				return nil, nil, composeforge.Validationf(path, "attribute entry %d is missing Key", i)
			}
			val, ok := pair["Value"]
			if !ok {
				return nil, nil, composeforge.Validationf(path, "attribute entry %d is missing Value", i)
			}
			ordered = append(ordered, composeforge.AttributeEntry{Key: key, Value: stringify(val)})
		}
	case []composeforge.AttributeEntry:
		ordered = append(ordered, v...)
	default:
		return nil, nil, composeforge.Validationf(path, "attributes must be a map or a list of Key/Value pairs, got %T", input)
	}

	var warnings []composeforge.Warning
	byKey := make(map[string]int)
	var deduped []composeforge.AttributeEntry
	for _, e := range ordered {
		if idx, dup := byKey[e.Key]; dup {
			warnings = append(warnings, composeforge.Warning{
				Code:    composeforge.WarnDuplicateAttribute,
				Path:    path,
				Message: fmt.Sprintf("duplicate key %q, last value %q wins over %q", e.Key, e.Value, deduped[idx].Value),
			})
			deduped[idx] = e
			continue
		}
		byKey[e.Key] = len(deduped)
		deduped = append(deduped, e)
	}

	return deduped, warnings, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
