package route

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/angeloszaimis/reverse-proxy/internal/registry"
)

// DuplicatePrefixError reports two routes with the same prefix and kind.
type DuplicatePrefixError struct {
	Prefix string
	Kind   Kind
}

func (e *DuplicatePrefixError) Error() string {
	return fmt.Sprintf("duplicate %s route for prefix %q", e.Kind, e.Prefix)
}

// Table is the ordered, validated set of routes. It is immutable once
// built and safe for concurrent reads without locking.
//
// Routes are totally ordered by prefix length (longest first), then
// priority (highest first), then registration order (earliest first).
// Because longer prefixes sort first, the first prefix hit during a scan
// is the winner for any path, so matching never has to compare candidates.
type Table struct {
	routes []*Route
}

// Build validates routes against reg, orders them, and checks the
// redirect subset for cycles. All validation problems found in one pass
// are reported together; a table is only returned when every check holds.
func Build(routes []Route, reg *registry.Registry) (*Table, error) {
	var errs *multierror.Error

	seen := make(map[string]map[Kind]bool)
	ordered := make([]*Route, 0, len(routes))

	for i := range routes {
		r := routes[i]
		r.order = i

		if seen[r.Prefix] == nil {
			seen[r.Prefix] = make(map[Kind]bool)
		}
		if seen[r.Prefix][r.Kind] {
			errs = multierror.Append(errs, &DuplicatePrefixError{Prefix: r.Prefix, Kind: r.Kind})
			continue
		}
		seen[r.Prefix][r.Kind] = true

		if r.Kind == KindProxy {
			if _, err := reg.Lookup(r.Backend); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("route %s: %w", r.Prefix, err))
				continue
			}
		}
		if r.Kind == KindRedirect && r.Status == 0 {
			r.Status = 301
		}

		ordered = append(ordered, &r)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if len(a.Prefix) != len(b.Prefix) {
			return len(a.Prefix) > len(b.Prefix)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.order < b.order
	})

	if err := validateRedirects(ordered); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	return &Table{routes: ordered}, nil
}

// Match returns the highest-ordered route whose prefix matches path, or
// nil when no route matches.
func (t *Table) Match(path string) *Route {
	for _, r := range t.routes {
		if matchesPrefix(r.Prefix, path) {
			return r
		}
	}
	return nil
}

// Routes returns the routes in table order.
func (t *Table) Routes() []*Route {
	return t.routes
}
