package analysis

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RateLimiter", func() {
	var (
		limiter *RateLimiter
		now     time.Time
		slept   []time.Duration
	)

	BeforeEach(func() {
		now = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
		slept = nil
		limiter = NewRateLimiter(3)
		limiter.now = func() time.Time { return now }
		limiter.sleep = func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		}
	})

	It("permits calls up to the per-minute ceiling without waiting", func() {
		for i := 0; i < 3; i++ {
			Expect(limiter.Throttle(context.Background())).To(Succeed())
		}
		Expect(slept).To(BeEmpty())
	})

	When("the window is full", func() {
		BeforeEach(func() {
			Expect(limiter.Throttle(context.Background())).To(Succeed())
			now = now.Add(10 * time.Second)
			Expect(limiter.Throttle(context.Background())).To(Succeed())
			Expect(limiter.Throttle(context.Background())).To(Succeed())
		})

		It("waits until the oldest call leaves the trailing window", func() {
			Expect(limiter.Throttle(context.Background())).To(Succeed())
			Expect(slept).To(Equal([]time.Duration{50 * time.Second}))
		})

		It("never exceeds the ceiling within the window", func() {
			for i := 0; i < 5; i++ {
				Expect(limiter.Throttle(context.Background())).To(Succeed())
				Expect(limiter.Stats().InWindow).To(BeNumerically("<=", 3))
			}
		})
	})

	It("reports occupancy and the next reset time", func() {
		Expect(limiter.Throttle(context.Background())).To(Succeed())

		stats := limiter.Stats()
		Expect(stats.PerMinute).To(Equal(3))
		Expect(stats.InWindow).To(Equal(1))
		Expect(stats.Available).To(Equal(2))
		Expect(stats.NextReset).To(Equal(now.Add(time.Minute)))
	})

	It("returns the context error when cancelled while waiting", func() {
		limiter.sleep = func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		}
		for i := 0; i < 3; i++ {
			Expect(limiter.Throttle(context.Background())).To(Succeed())
		}
		Expect(limiter.Throttle(context.Background())).To(MatchError(context.Canceled))
	})
})
