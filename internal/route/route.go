package route

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags what a route does with a matched request.
type Kind string

const (
	KindProxy    Kind = "proxy"
	KindRedirect Kind = "redirect"
	KindStatic   Kind = "static"
)

// Route maps a path prefix to an action. Routes are immutable once the
// table is built.
type Route struct {
	Prefix   string
	Kind     Kind
	Priority int

	// Proxy routes.
	Backend     string
	StripPrefix bool
	// Zero means use the dispatcher's defaults.
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration

	// Redirect routes.
	Target string
	Status int

	// Static routes.
	Dir string

	// order records registration position; it is the final tie-breaker
	// in the table's total order.
	order int
}

func (r *Route) String() string {
	switch r.Kind {
	case KindProxy:
		return fmt.Sprintf("proxy %s -> backend %s (priority %d)", r.Prefix, r.Backend, r.Priority)
	case KindRedirect:
		return fmt.Sprintf("redirect %s -> %s (%d, priority %d)", r.Prefix, r.Target, r.Status, r.Priority)
	case KindStatic:
		return fmt.Sprintf("static %s -> %s (priority %d)", r.Prefix, r.Dir, r.Priority)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.Prefix)
}

// matchesPrefix reports whether prefix matches path at a segment boundary.
// "/app" matches "/app" and "/app/x" but not "/apple"; a prefix ending in
// "/" matches by plain string prefix.
func matchesPrefix(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

// Suffix returns the part of path that follows the route's prefix,
// preserving a leading slash when the prefix ends without one.
func (r *Route) Suffix(path string) string {
	return path[len(strings.TrimSuffix(r.Prefix, "/")):]
}

// RedirectLocation builds the Location for a redirect route: the target
// plus whatever followed the matched prefix.
func (r *Route) RedirectLocation(path string) string {
	suffix := r.Suffix(path)
	if suffix == "" {
		return r.Target
	}
	return strings.TrimSuffix(r.Target, "/") + suffix
}

// RewritePath strips the matched prefix from path for proxy routes that
// request it. The result always starts with "/".
func (r *Route) RewritePath(path string) string {
	if !r.StripPrefix {
		return path
	}
	suffix := r.Suffix(path)
	if suffix == "" {
		return "/"
	}
	return suffix
}
