package resolver_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/reverse-proxy/internal/registry"
	"github.com/angeloszaimis/reverse-proxy/internal/resolver"
)

// fakeClock is a settable clock shared with the resolver under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Resolver", func() {
	var (
		reg     *registry.Registry
		clock   *fakeClock
		lookups atomic.Int64
		log     *slog.Logger
	)

	BeforeEach(func() {
		reg = registry.New()
		Expect(reg.Register(registry.Backend{Name: "backendA", Hostname: "backend-a", Port: 8081})).To(Succeed())
		Expect(reg.Register(registry.Backend{Name: "backendB", Hostname: "backend-b", Port: 8082})).To(Succeed())

		clock = &fakeClock{now: time.Unix(1700000000, 0)}
		lookups.Store(0)
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Suppress logs in tests
		}))
	})

	newResolver := func(lookup resolver.LookupFunc, ttl time.Duration) *resolver.Resolver {
		return resolver.New(reg, resolver.Config{
			DefaultTTL: ttl,
			Timeout:    time.Second,
			Lookup:     lookup,
			Now:        clock.Now,
		}, log)
	}

	fixedLookup := func(addr string) resolver.LookupFunc {
		return func(ctx context.Context, host string) ([]string, error) {
			lookups.Add(1)
			return []string{addr}, nil
		}
	}

	failingLookup := func(ctx context.Context, host string) ([]string, error) {
		lookups.Add(1)
		return nil, errors.New("dns failure")
	}

	Describe("Resolve", func() {
		It("should resolve a cold entry and join the configured port", func() {
			r := newResolver(fixedLookup("10.0.0.5"), 5*time.Second)

			addr, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal("10.0.0.5:8081"))
			Expect(lookups.Load()).To(Equal(int64(1)))
		})

		It("should fail for an unknown backend", func() {
			r := newResolver(fixedLookup("10.0.0.5"), 5*time.Second)

			_, err := r.Resolve(context.Background(), "nope")
			var resErr *resolver.ResolutionError
			Expect(errors.As(err, &resErr)).To(BeTrue())

			var unknown *registry.UnknownBackendError
			Expect(errors.As(err, &unknown)).To(BeTrue())
		})

		It("should serve a fresh entry from cache without I/O", func() {
			r := newResolver(fixedLookup("10.0.0.5"), 5*time.Second)

			_, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(3 * time.Second)

			addr, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal("10.0.0.5:8081"))
			Expect(lookups.Load()).To(Equal(int64(1)))
		})

		It("should surface a resolution error with no cached address", func() {
			r := newResolver(failingLookup, 5*time.Second)

			_, err := r.Resolve(context.Background(), "backendA")
			var resErr *resolver.ResolutionError
			Expect(errors.As(err, &resErr)).To(BeTrue())
			Expect(resErr.Backend).To(Equal("backendA"))
		})
	})

	Describe("stale-but-usable window", func() {
		It("should keep serving the stale address while refreshes fail", func() {
			calls := atomic.Int64{}
			lookup := func(ctx context.Context, host string) ([]string, error) {
				if calls.Add(1) == 1 {
					return []string{"10.0.0.5"}, nil
				}
				return nil, errors.New("dns failure")
			}
			r := newResolver(lookup, 5*time.Second)

			_, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())

			// Inside the stale window every refresh attempt fails, but
			// the old address keeps being served.
			clock.Advance(6 * time.Second)
			addr, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal("10.0.0.5:8081"))

			clock.Advance(3 * time.Second) // t=9s, still inside 2*ttl
			addr, err = r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal("10.0.0.5:8081"))

			// Past the window the address is unusable and continued DNS
			// failure becomes the caller's error.
			clock.Advance(2 * time.Second) // t=11s
			Eventually(func() error {
				_, err := r.Resolve(context.Background(), "backendA")
				return err
			}).Should(HaveOccurred())
		})

		It("should adopt the refreshed address once a refresh succeeds", func() {
			var current atomic.Value
			current.Store("10.0.0.5")
			lookup := func(ctx context.Context, host string) ([]string, error) {
				lookups.Add(1)
				return []string{current.Load().(string)}, nil
			}
			r := newResolver(lookup, 5*time.Second)

			_, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())

			current.Store("10.0.0.9")
			clock.Advance(6 * time.Second)

			// The stale hit returns the old address immediately and
			// refreshes in the background.
			addr, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal("10.0.0.5:8081"))

			Eventually(func() string {
				addr, _ := r.Resolve(context.Background(), "backendA")
				return addr
			}).Should(Equal("10.0.0.9:8081"))
		})
	})

	Describe("single-flight", func() {
		It("should coalesce concurrent cold resolutions into one lookup", func() {
			release := make(chan struct{})
			lookup := func(ctx context.Context, host string) ([]string, error) {
				lookups.Add(1)
				<-release
				return []string{"10.0.0.5"}, nil
			}
			r := newResolver(lookup, 5*time.Second)

			const callers = 50
			addrs := make([]string, callers)
			errs := make([]error, callers)

			var wg sync.WaitGroup
			var started sync.WaitGroup
			wg.Add(callers)
			started.Add(callers)
			for i := 0; i < callers; i++ {
				go func(i int) {
					defer wg.Done()
					started.Done()
					addrs[i], errs[i] = r.Resolve(context.Background(), "backendA")
				}(i)
			}

			started.Wait()
			time.Sleep(50 * time.Millisecond) // let every caller reach the lookup
			close(release)
			wg.Wait()

			Expect(lookups.Load()).To(Equal(int64(1)))
			for i := 0; i < callers; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(addrs[i]).To(Equal("10.0.0.5:8081"))
			}
		})

		It("should not serialize different backends on one lock", func() {
			blockA := make(chan struct{})
			lookup := func(ctx context.Context, host string) ([]string, error) {
				if host == "backend-a" {
					<-blockA
				}
				return []string{"10.0.0.5"}, nil
			}
			r := newResolver(lookup, 5*time.Second)

			done := make(chan struct{})
			go func() {
				defer close(done)
				r.Resolve(context.Background(), "backendA")
			}()

			// backendB resolves while backendA's lookup is stuck.
			addr, err := r.Resolve(context.Background(), "backendB")
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal("10.0.0.5:8082"))

			close(blockA)
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("State and Snapshot", func() {
		It("should walk the entry lifecycle without triggering lookups", func() {
			r := newResolver(fixedLookup("10.0.0.5"), 5*time.Second)

			Expect(r.State("backendA")).To(Equal(resolver.StateUnresolved))

			_, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.State("backendA")).To(Equal(resolver.StateResolved))

			clock.Advance(6 * time.Second)
			Expect(r.State("backendA")).To(Equal(resolver.StateStale))

			clock.Advance(5 * time.Second)
			Expect(r.State("backendA")).To(Equal(resolver.StateExpired))

			// Reading state never resolved anything.
			Expect(lookups.Load()).To(Equal(int64(1)))
		})

		It("should report a failed entry", func() {
			r := newResolver(failingLookup, 5*time.Second)

			_, err := r.Resolve(context.Background(), "backendA")
			Expect(err).To(HaveOccurred())
			Expect(r.State("backendA")).To(Equal(resolver.StateFailed))
		})

		It("should snapshot every registered backend without side effects", func() {
			r := newResolver(fixedLookup("10.0.0.5"), 5*time.Second)

			_, err := r.Resolve(context.Background(), "backendA")
			Expect(err).NotTo(HaveOccurred())

			before := lookups.Load()
			snap := r.Snapshot()
			Expect(lookups.Load()).To(Equal(before))

			Expect(snap).To(HaveKey("backendA"))
			Expect(snap).To(HaveKey("backendB"))
			Expect(snap["backendA"].State).To(Equal(resolver.StateResolved))
			Expect(snap["backendA"].Address).To(Equal("10.0.0.5:8081"))
			Expect(snap["backendB"].State).To(Equal(resolver.StateUnresolved))
		})
	})

	Describe("per-backend TTL override", func() {
		It("should expire an overridden backend on its own schedule", func() {
			Expect(reg.Register(registry.Backend{
				Name: "shortLived", Hostname: "short", Port: 9000, TTL: time.Second,
			})).To(Succeed())

			r := newResolver(fixedLookup("10.0.0.7"), time.Hour)

			_, err := r.Resolve(context.Background(), "shortLived")
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(90 * time.Minute)
			Expect(r.State("shortLived")).To(Equal(resolver.StateExpired))
		})
	})
})
