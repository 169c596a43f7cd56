package analysis

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CostTracker", func() {
	var (
		tracker *CostTracker
		now     time.Time
	)

	BeforeEach(func() {
		now = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
		tracker = NewCostTracker(100, 2000)
		tracker.now = func() time.Time { return now }
	})

	It("prices usage per model", func() {
		breakdown, err := tracker.TrackUsage(1_000_000, 1_000_000, "claude-3-5-haiku-20241022")
		Expect(err).NotTo(HaveOccurred())
		Expect(breakdown.InputCost).To(BeNumerically("~", 0.80, 1e-9))
		Expect(breakdown.OutputCost).To(BeNumerically("~", 4.00, 1e-9))
		Expect(breakdown.Total).To(BeNumerically("~", 4.80, 1e-9))
	})

	It("falls back to default pricing for unknown models", func() {
		breakdown, err := tracker.TrackUsage(1_000_000, 0, "mystery-model")
		Expect(err).NotTo(HaveOccurred())
		Expect(breakdown.Total).To(BeNumerically("~", 0.80, 1e-9))
	})

	When("a call crosses the daily ceiling", func() {
		It("records the spend and rejects the call and every one after it", func() {
			// 150M input tokens at $0.80/Mtok is $120
			_, err := tracker.TrackUsage(150_000_000, 0, "claude-3-5-haiku-20241022")

			var costErr *CostLimitError
			Expect(errors.As(err, &costErr)).To(BeTrue())
			Expect(costErr.Scope).To(Equal("daily"))
			Expect(tracker.Stats().DailyTotal).To(BeNumerically("~", 120, 1e-9))

			_, err = tracker.TrackUsage(1000, 0, "claude-3-5-haiku-20241022")
			Expect(errors.As(err, &costErr)).To(BeTrue())
		})
	})

	When("a call crosses the monthly ceiling", func() {
		BeforeEach(func() {
			tracker = NewCostTracker(0, 50)
			tracker.now = func() time.Time { return now }
		})

		It("reports the monthly scope", func() {
			// 100M input tokens at $0.80/Mtok is $80
			_, err := tracker.TrackUsage(100_000_000, 0, "claude-3-5-haiku-20241022")

			var costErr *CostLimitError
			Expect(errors.As(err, &costErr)).To(BeTrue())
			Expect(costErr.Scope).To(Equal("monthly"))
		})
	})

	It("resets the daily ledger when the date changes", func() {
		// $40 today
		_, err := tracker.TrackUsage(50_000_000, 0, "claude-3-5-haiku-20241022")
		Expect(err).NotTo(HaveOccurred())
		Expect(tracker.Stats().DailyTotal).To(BeNumerically("~", 40, 1e-9))

		now = now.Add(24 * time.Hour)
		_, err = tracker.TrackUsage(1_000_000, 0, "claude-3-5-haiku-20241022")
		Expect(err).NotTo(HaveOccurred())

		stats := tracker.Stats()
		Expect(stats.DailyTotal).To(BeNumerically("~", 0.80, 1e-9))
		Expect(stats.MonthlyTotal).To(BeNumerically("~", 40.80, 1e-9))
	})

	It("bounds the usage history", func() {
		for i := 0; i < maxHistory+10; i++ {
			_, err := tracker.TrackUsage(1, 1, "claude-3-5-haiku-20241022")
			Expect(err).NotTo(HaveOccurred())
		}

		stats := tracker.Stats()
		Expect(stats.Requests).To(Equal(maxHistory + 10))
		Expect(stats.Recent).To(HaveLen(10))
	})
})
