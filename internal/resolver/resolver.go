// Package resolver turns symbolic references (literal IDs or tag-based
// lookup criteria) into concrete AWS identifiers.
//
// Literal IDs are pattern-validated and passed through. Lookup criteria
// are delegated to a LookupService and must match exactly one target.
// Results are cached per distinct criteria within one resolver instance,
// so a compilation run never issues the same external call twice.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	composeforge "github.com/compose-forge/composeforge"
)

// RefKind identifies what a symbolic reference points at.
type RefKind string

const (
	KindSecurityGroup RefKind = "SecurityGroup"
	KindPrefixList    RefKind = "PrefixList"
	KindCertificate   RefKind = "Certificate"
	KindSecret        RefKind = "Secret"
)

// SymbolicRef is a reference awaiting resolution. Exactly one of ID and
// Lookup must be set.
type SymbolicRef struct {
	Kind   RefKind
	Path   string // document path, used in error reports
	ID     string
	Lookup map[string]string
}

// LookupService resolves tag criteria to zero or more concrete IDs. The
// production implementation calls AWS; tests inject fakes.
type LookupService interface {
	Lookup(ctx context.Context, kind RefKind, tags map[string]string) ([]string, error)
}

var idPatterns = map[RefKind]*regexp.Regexp{
	KindSecurityGroup: regexp.MustCompile(`^sg-[a-z0-9]+$`),
	KindPrefixList:    regexp.MustCompile(`^pl-[a-z0-9]+$`),
	KindCertificate:   regexp.MustCompile(`^arn:aws[\w-]*:acm:[\w-]+:\d{12}:certificate/[\w-]+$`),
	KindSecret:        regexp.MustCompile(`^arn:aws[\w-]*:secretsmanager:[\w-]+:\d{12}:secret:[\w/+=.@-]+$`),
}

// Resolver resolves symbolic references through a LookupService, caching
// lookup results per criteria.
type Resolver struct {
	lookup LookupService

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Resolver backed by the given lookup capability.
func New(lookup LookupService) *Resolver {
	return &Resolver{
		lookup: lookup,
		cache:  make(map[string]string),
	}
}

// Resolve returns the concrete ID for a single reference.
func (r *Resolver) Resolve(ctx context.Context, ref SymbolicRef) (string, error) {
	if ref.ID != "" && len(ref.Lookup) > 0 {
		return "", composeforge.Validationf(ref.Path, "exactly one of Id and Lookup must be set, got both")
	}
	if ref.ID == "" && len(ref.Lookup) == 0 {
		return "", composeforge.Validationf(ref.Path, "exactly one of Id and Lookup must be set, got neither")
	}

	if ref.ID != "" {
		pattern, ok := idPatterns[ref.Kind]
		if !ok {
			return "", composeforge.Validationf(ref.Path, "unknown reference kind %q", ref.Kind)
		}
		if !pattern.MatchString(ref.ID) {
			return "", composeforge.Validationf(ref.Path, "%q is not a valid %s identifier", ref.ID, ref.Kind)
		}
		return ref.ID, nil
	}

	key := cacheKey(ref.Kind, ref.Lookup)

	r.mu.Lock()
	if id, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	matches, err := r.lookup.Lookup(ctx, ref.Kind, ref.Lookup)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", &composeforge.UnresolvedReferenceError{Ref: ref.Path, Criteria: ref.Lookup}
	case 1:
	default:
		sort.Strings(matches)
		return "", &composeforge.AmbiguousReferenceError{Ref: ref.Path, Matches: matches}
	}

	r.mu.Lock()
	r.cache[key] = matches[0]
	r.mu.Unlock()

	return matches[0], nil
}

// ResolveAll resolves a batch of references concurrently. References
// sharing the same lookup criteria are coalesced into one external call;
// distinct lookups fan out in parallel and the first failure cancels the
// remaining in-flight ones. The returned slice is index-aligned with refs,
// so the result is identical regardless of completion order.
func (r *Resolver) ResolveAll(ctx context.Context, refs []SymbolicRef) ([]string, error) {
	ids := make([]string, len(refs))

	// Group indices by cache key so duplicate criteria resolve once.
	// Literal-ID and malformed refs never reach the LookupService, so each
	// keeps its own group and its own per-path error.
	groups := make(map[string][]int, len(refs))
	for i, ref := range refs {
		key := fmt.Sprintf("#%d", i)
		if ref.ID == "" && len(ref.Lookup) > 0 {
			key = cacheKey(ref.Kind, ref.Lookup)
		}
		groups[key] = append(groups[key], i)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, indices := range groups {
		g.Go(func() error {
			id, err := r.Resolve(ctx, refs[indices[0]])
			if err != nil {
				return err
			}
			for _, i := range indices {
				ids[i] = id
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// cacheKey builds a deterministic key from the reference kind and sorted
// criteria.
func cacheKey(kind RefKind, tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(string(kind))
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(tags[k])
	}
	return sb.String()
}
