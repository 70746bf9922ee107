package registry

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
)

// Backend is a named upstream HTTP service. Backends are immutable after
// configuration load; identity is the Name.
type Backend struct {
	Name       string
	Hostname   string
	Port       int
	HealthPath string

	// TTL overrides the resolver's default cache TTL for this backend.
	// Zero means use the default.
	TTL time.Duration
}

// HostPort returns the configured hostname:port pair, before resolution.
func (b Backend) HostPort() string {
	return net.JoinHostPort(b.Hostname, strconv.Itoa(b.Port))
}

// DuplicateBackendError reports a second registration under an existing name.
type DuplicateBackendError struct {
	Name string
}

func (e *DuplicateBackendError) Error() string {
	return fmt.Sprintf("duplicate backend %q", e.Name)
}

// UnknownBackendError reports a lookup for a name that was never registered.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend %q", e.Name)
}

// Registry holds the static set of known backends. Writes happen only during
// configuration load; afterwards the registry is read-only and needs no
// synchronization.
type Registry struct {
	backends map[string]Backend
}

func New() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend. It fails if the name is already present.
func (r *Registry) Register(b Backend) error {
	if _, ok := r.backends[b.Name]; ok {
		return &DuplicateBackendError{Name: b.Name}
	}
	r.backends[b.Name] = b
	return nil
}

// Lookup returns the backend registered under name.
func (r *Registry) Lookup(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, &UnknownBackendError{Name: name}
	}
	return b, nil
}

// Names returns all registered backend names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered backend, sorted by name.
func (r *Registry) All() []Backend {
	backends := make([]Backend, 0, len(r.backends))
	for _, name := range r.Names() {
		backends = append(backends, r.backends[name])
	}
	return backends
}
