package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/angeloszaimis/reverse-proxy/internal/registry"
)

// State describes where a backend's cached address sits in its TTL
// lifecycle.
type State string

const (
	StateUnresolved State = "UNRESOLVED"
	StateResolved   State = "RESOLVED"
	StateStale      State = "STALE"
	StateExpired    State = "EXPIRED"
	StateFailed     State = "FAILED"
)

// ResolutionError reports a failed address lookup for a backend with no
// usable cached address to fall back on.
type ResolutionError struct {
	Backend string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving backend %q: %v", e.Backend, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// LookupFunc resolves a hostname to one or more addresses. The default
// uses the system resolver, which in container deployments is the
// platform's service-discovery DNS.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Config tunes a Resolver. Zero values fall back to defaults; Lookup and
// Now exist so tests can inject a fake resolver and clock.
type Config struct {
	DefaultTTL time.Duration
	Timeout    time.Duration
	Lookup     LookupFunc
	Now        func() time.Time
}

// entry is the cached resolution for one backend. Entries are created on
// first use and never removed; only their address fields mutate.
type entry struct {
	mu         sync.Mutex
	address    string
	resolvedAt time.Time
	ttl        time.Duration
	lastErr    error
	refreshing bool
}

// Resolver turns backend names into currently-valid network addresses.
//
// A cached address is served as-is inside its TTL. Between one and two
// TTLs it is stale but usable: it is still served while a background
// refresh runs. Past two TTLs it is unusable and resolution happens
// synchronously on the request path. Concurrent resolutions of the same
// backend are coalesced into a single lookup.
type Resolver struct {
	reg        *registry.Registry
	lookup     LookupFunc
	defaultTTL time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

func New(reg *registry.Registry, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Lookup == nil {
		cfg.Lookup = func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Resolver{
		reg:        reg,
		lookup:     cfg.Lookup,
		defaultTTL: cfg.DefaultTTL,
		timeout:    cfg.Timeout,
		now:        cfg.Now,
		logger:     logger,
		entries:    make(map[string]*entry),
	}
}

// Resolve returns a usable address for the named backend, consulting the
// cache per the TTL lifecycle and performing at most one underlying
// lookup regardless of how many callers arrive at once.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	b, err := r.reg.Lookup(name)
	if err != nil {
		return "", &ResolutionError{Backend: name, Err: err}
	}

	e := r.entry(name, b)

	e.mu.Lock()
	if e.address != "" {
		age := r.now().Sub(e.resolvedAt)
		switch {
		case age < e.ttl:
			addr := e.address
			e.mu.Unlock()
			return addr, nil
		case age < 2*e.ttl:
			addr := e.address
			if !e.refreshing {
				e.refreshing = true
				go r.refresh(name, b, e)
			}
			e.mu.Unlock()
			return addr, nil
		}
	}
	e.mu.Unlock()

	addr, err := r.resolveShared(name, b, e)
	if err == nil {
		return addr, nil
	}

	// The lookup failed, but a concurrent refresh may have landed an
	// address that is still inside its stale window.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.address != "" && r.now().Sub(e.resolvedAt) < 2*e.ttl {
		return e.address, nil
	}
	return "", &ResolutionError{Backend: name, Err: err}
}

// State reports the lifecycle state of a backend's cache entry without
// triggering any resolution.
func (r *Resolver) State(name string) State {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return StateUnresolved
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.address == "" {
		if e.lastErr != nil {
			return StateFailed
		}
		return StateUnresolved
	}

	age := r.now().Sub(e.resolvedAt)
	switch {
	case age < e.ttl:
		return StateResolved
	case age < 2*e.ttl:
		return StateStale
	}
	if e.lastErr != nil {
		return StateFailed
	}
	return StateExpired
}

// BackendStatus is a point-in-time view of one backend's resolution
// state, for the health endpoint.
type BackendStatus struct {
	State      State     `json:"state"`
	Address    string    `json:"address,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// Snapshot reports the resolution state of every registered backend. It
// never performs a lookup as a side effect.
func (r *Resolver) Snapshot() map[string]BackendStatus {
	statuses := make(map[string]BackendStatus)
	for _, name := range r.reg.Names() {
		status := BackendStatus{State: r.State(name)}

		r.mu.RLock()
		e, ok := r.entries[name]
		r.mu.RUnlock()
		if ok {
			e.mu.Lock()
			status.Address = e.address
			status.ResolvedAt = e.resolvedAt
			if e.lastErr != nil {
				status.Error = e.lastErr.Error()
			}
			e.mu.Unlock()
		}

		statuses[name] = status
	}
	return statuses
}

// entry returns the cache entry for name, creating it on first use. The
// registry-wide lock guards only map membership; entry state has its own
// lock so backends never contend with each other.
func (r *Resolver) entry(name string, b registry.Backend) *entry {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e
	}

	ttl := b.TTL
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	e = &entry{ttl: ttl}
	r.entries[name] = e
	return e
}

// resolveShared performs one lookup for name no matter how many callers
// arrive concurrently; the rest share its outcome.
func (r *Resolver) resolveShared(name string, b registry.Backend, e *entry) (string, error) {
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		addr, err := r.doLookup(b)
		e.mu.Lock()
		if err == nil {
			e.address = addr
			e.resolvedAt = r.now()
			e.lastErr = nil
		} else {
			e.lastErr = err
		}
		e.mu.Unlock()
		return addr, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// doLookup resolves the backend's hostname and joins it with the
// configured port. The lookup is detached from any caller's context so a
// cancelled request cannot poison the shared result.
func (r *Resolver) doLookup(b registry.Backend) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	addrs, err := r.lookup(ctx, b.Hostname)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for host %q", b.Hostname)
	}
	return net.JoinHostPort(addrs[0], strconv.Itoa(b.Port)), nil
}

// refresh re-resolves a stale entry in the background, retrying with
// exponential backoff inside a budget that closes before the stale
// window does. Failures leave the stale address in place; the next stale
// hit schedules another attempt.
func (r *Resolver) refresh(name string, b registry.Backend, e *entry) {
	defer func() {
		e.mu.Lock()
		e.refreshing = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.ttl)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (string, error) {
		return r.resolveShared(name, b, e)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(e.ttl/2),
	)
	if err != nil {
		r.logger.Warn("background refresh failed, serving stale address",
			slog.String("backend", name),
			slog.String("error", err.Error()))
		return
	}

	r.logger.Debug("refreshed backend address",
		slog.String("backend", name))
}
