package statement

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chunker", func() {
	Describe("pageRanges", func() {
		It("splits five pages into groups of two with a short tail", func() {
			Expect(pageRanges(5, 2)).To(Equal([]PageRange{
				{Start: 1, End: 2},
				{Start: 3, End: 4},
				{Start: 5, End: 5},
			}))
		})

		It("covers an exact multiple without a tail", func() {
			Expect(pageRanges(10, 2)).To(HaveLen(5))
			Expect(pageRanges(10, 2)[4]).To(Equal(PageRange{Start: 9, End: 10}))
		})

		It("puts a short document in a single chunk", func() {
			Expect(pageRanges(1, 2)).To(Equal([]PageRange{{Start: 1, End: 1}}))
		})

		It("covers every page exactly once, in order", func() {
			for _, per := range []int{1, 2, 3, 7} {
				for total := 1; total <= 25; total++ {
					ranges := pageRanges(total, per)
					expected := (total + per - 1) / per
					Expect(ranges).To(HaveLen(expected), "total=%d per=%d", total, per)

					next := 1
					for _, r := range ranges {
						Expect(r.Start).To(Equal(next), "total=%d per=%d", total, per)
						Expect(r.End).To(BeNumerically(">=", r.Start))
						Expect(r.End - r.Start + 1).To(BeNumerically("<=", per))
						next = r.End + 1
					}
					Expect(next).To(Equal(total + 1), "total=%d per=%d", total, per)
				}
			}
		})
	})

	Describe("input validation", func() {
		var chunker *Chunker

		BeforeEach(func() {
			chunker = NewChunker(2)
		})

		It("defaults the chunk size when not configured", func() {
			Expect(NewChunker(0).PagesPerChunk()).To(Equal(2))
			Expect(NewChunker(-1).PagesPerChunk()).To(Equal(2))
		})

		It("rejects bytes that are not a PDF", func() {
			_, err := chunker.PageCount([]byte("this is not a PDF document"))
			Expect(errors.Is(err, ErrInvalidDocument)).To(BeTrue())

			_, err = chunker.Split([]byte("this is not a PDF document"))
			Expect(errors.Is(err, ErrInvalidDocument)).To(BeTrue())
		})

		It("rejects empty input", func() {
			_, err := chunker.Split(nil)
			Expect(errors.Is(err, ErrInvalidDocument)).To(BeTrue())
		})
	})
})
