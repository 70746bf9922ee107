package route

import (
	"fmt"
	"strings"
)

// CycleError reports a chain of redirects that loops back on itself.
// Path holds the offending prefixes in chain order, ending on the repeat.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("redirect cycle detected: %s", strings.Join(e.Path, " -> "))
}

// dfs coloring
const (
	white = iota // unvisited
	gray         // on the current chain
	black        // fully explored, cycle-free
)

// validateRedirects checks the redirect subset of the routes for cycles.
//
// Each redirect route is a directed edge from its prefix to whichever
// redirect route its target would match under the same longest-prefix
// rule the table applies at request time; that is the route a client
// following the Location header would hit next. Targets matching no
// redirect route terminate a chain. The check runs once, at table
// construction, so no runtime loop detection is needed.
func validateRedirects(routes []*Route) error {
	var redirects []*Route
	for _, r := range routes {
		if r.Kind == KindRedirect {
			redirects = append(redirects, r)
		}
	}

	next := func(r *Route) *Route {
		for _, cand := range redirects {
			if matchesPrefix(cand.Prefix, r.Target) {
				return cand
			}
		}
		return nil
	}

	color := make(map[*Route]int, len(redirects))
	var chain []*Route

	var visit func(r *Route) *CycleError
	visit = func(r *Route) *CycleError {
		color[r] = gray
		chain = append(chain, r)

		if n := next(r); n != nil {
			switch color[n] {
			case gray:
				return cycleFrom(chain, n)
			case white:
				if err := visit(n); err != nil {
					return err
				}
			}
		}

		chain = chain[:len(chain)-1]
		color[r] = black
		return nil
	}

	for _, r := range redirects {
		if color[r] == white {
			if err := visit(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleFrom slices the current chain down to the loop and closes it.
func cycleFrom(chain []*Route, start *Route) *CycleError {
	var path []string
	found := false
	for _, r := range chain {
		if r == start {
			found = true
		}
		if found {
			path = append(path, r.Prefix)
		}
	}
	path = append(path, start.Prefix)
	return &CycleError{Path: path}
}
