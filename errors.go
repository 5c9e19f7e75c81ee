package composeforge

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports a malformed or ambiguous field in the document.
// Fatal for the resource it belongs to.
type ValidationError struct {
	Path    string // document path of the offending field
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// UnresolvedReferenceError reports a lookup that matched nothing.
type UnresolvedReferenceError struct {
	Ref      string
	Criteria map[string]string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: no match for lookup criteria %s", e.Ref, formatCriteria(e.Criteria))
}

// AmbiguousReferenceError reports a lookup that matched more than one
// target.
type AmbiguousReferenceError struct {
	Ref     string
	Matches []string
}

func (e *AmbiguousReferenceError) Error() string {
	return fmt.Sprintf("%s: lookup matched %d targets: %s", e.Ref, len(e.Matches), strings.Join(e.Matches, ", "))
}

// PolicyViolationError reports an attribute or value incompatible with the
// resource type it is set on.
type PolicyViolationError struct {
	Path    string
	Key     string
	LBType  string
	Message string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s: attribute %q not allowed for %s load balancer: %s", e.Path, e.Key, e.LBType, e.Message)
}

// ConflictError reports duplicate listener conditions or cyclic
// dependencies.
type ConflictError struct {
	Path    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func formatCriteria(criteria map[string]string) string {
	if len(criteria) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(criteria))
	for k, v := range criteria {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
