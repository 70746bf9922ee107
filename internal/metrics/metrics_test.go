package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/reverse-proxy/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("request counting", func() {
		It("should count requests per route and in total", func() {
			m.IncrementRequests("/app")
			m.IncrementRequests("/app")
			m.IncrementRequests("/auth/")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Routes["/app"].Requests).To(Equal(int64(2)))
			Expect(snap.Routes["/auth/"].Requests).To(Equal(int64(1)))
		})

		It("should track unmatched requests under their own label", func() {
			m.IncrementRequests(metrics.RouteUnmatched)

			snap := m.Snapshot()
			Expect(snap.Routes[metrics.RouteUnmatched].Requests).To(Equal(int64(1)))
		})
	})

	Describe("proxy latency percentiles", func() {
		It("should compute average and percentiles per backend", func() {
			for i := 1; i <= 100; i++ {
				m.RecordProxy("backendA", time.Duration(i)*time.Millisecond, 200)
			}

			snap := m.Snapshot()
			bm := snap.Backends["backendA"]
			Expect(bm.Proxied).To(Equal(int64(100)))
			Expect(bm.AvgResponse).To(BeNumerically("~", 50*time.Millisecond, 5*time.Millisecond))
			Expect(bm.P50Response).To(BeNumerically("~", 50*time.Millisecond, 5*time.Millisecond))
			Expect(bm.P95Response).To(BeNumerically(">=", 90*time.Millisecond))
			Expect(bm.P99Response).To(BeNumerically(">=", 95*time.Millisecond))
		})

		It("should cap the stored response time window", func() {
			for i := 0; i < 1500; i++ {
				m.RecordProxy("backendA", time.Millisecond, 200)
			}

			snap := m.Snapshot()
			Expect(snap.Backends["backendA"].Proxied).To(Equal(int64(1500)))
		})

		It("should bucket status codes", func() {
			m.RecordProxy("backendA", time.Millisecond, 200)
			m.RecordProxy("backendA", time.Millisecond, 200)
			m.RecordProxy("backendA", time.Millisecond, 502)

			snap := m.Snapshot()
			Expect(snap.Backends["backendA"].StatusCodes[200]).To(Equal(int64(2)))
			Expect(snap.Backends["backendA"].StatusCodes[502]).To(Equal(int64(1)))
		})
	})

	Describe("resolution failures and health", func() {
		It("should surface backends that only ever failed", func() {
			m.RecordResolutionFailure("ghost")

			snap := m.Snapshot()
			Expect(snap.Backends["ghost"].ResolutionFailures).To(Equal(int64(1)))
			Expect(snap.Backends["ghost"].Proxied).To(Equal(int64(0)))
		})

		It("should track the latest health status", func() {
			m.UpdateHealthStatus("backendA", true)
			m.UpdateHealthStatus("backendA", false)

			snap := m.Snapshot()
			Expect(snap.Backends["backendA"].Healthy).To(BeFalse())
		})
	})
})
