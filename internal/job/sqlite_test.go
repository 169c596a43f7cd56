package job

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SQLiteStore", func() {
	var (
		store *SQLiteStore
		ctx   context.Context
	)

	newJob := func(id, userID string, status Status, createdAt time.Time) *Job {
		return &Job{
			ID:        id,
			UserID:    userID,
			Status:    status,
			FileName:  "statement.pdf",
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
	}

	BeforeEach(func() {
		var err error
		store, err = NewSQLiteStore(filepath.Join(GinkgoT().TempDir(), "jobs.db"))
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	It("round-trips a record through Create and Get", func() {
		created := newJob("j1", "alice", StatusPending, time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC))
		Expect(store.Create(ctx, created)).To(Succeed())

		j, err := store.Get(ctx, "j1", "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(j.FileName).To(Equal("statement.pdf"))
		Expect(j.Status).To(Equal(StatusPending))
	})

	It("scopes Get to the owner", func() {
		Expect(store.Create(ctx, newJob("j1", "alice", StatusPending, time.Now()))).To(Succeed())

		_, err := store.Get(ctx, "j1", "mallory")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("applies mutations atomically and mirrors the status column", func() {
		Expect(store.Create(ctx, newJob("j1", "alice", StatusPending, time.Now()))).To(Succeed())

		updated, err := store.Update(ctx, "j1", func(j *Job) error {
			j.Status = StatusProcessing
			j.ChunksProcessed = 2
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Status).To(Equal(StatusProcessing))

		jobs, err := store.List(ctx, "alice", Filter{Status: StatusProcessing})
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].ChunksProcessed).To(Equal(2))
	})

	It("does not persist a mutation that errors", func() {
		Expect(store.Create(ctx, newJob("j1", "alice", StatusPending, time.Now()))).To(Succeed())

		_, err := store.Update(ctx, "j1", func(j *Job) error {
			j.Status = StatusProcessing
			return errors.New("rejected")
		})
		Expect(err).To(HaveOccurred())

		j, err := store.Get(ctx, "j1", "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Status).To(Equal(StatusPending))
	})

	It("returns not found for updates to missing jobs", func() {
		_, err := store.Update(ctx, "no-such-job", func(j *Job) error { return nil })
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("lists the owner's jobs newest first with status and limit filters", func() {
		base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
		Expect(store.Create(ctx, newJob("j1", "alice", StatusCompleted, base))).To(Succeed())
		Expect(store.Create(ctx, newJob("j2", "alice", StatusPending, base.Add(time.Minute)))).To(Succeed())
		Expect(store.Create(ctx, newJob("j3", "alice", StatusPending, base.Add(2*time.Minute)))).To(Succeed())
		Expect(store.Create(ctx, newJob("j4", "bob", StatusPending, base.Add(3*time.Minute)))).To(Succeed())

		jobs, err := store.List(ctx, "alice", Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(3))
		Expect(jobs[0].ID).To(Equal("j3"))

		jobs, err = store.List(ctx, "alice", Filter{Status: StatusPending, Limit: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].ID).To(Equal("j3"))
	})

	It("orders chronologically across whole-second and fractional timestamps", func() {
		base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
		Expect(store.Create(ctx, newJob("j1", "alice", StatusPending, base))).To(Succeed())
		Expect(store.Create(ctx, newJob("j2", "alice", StatusPending, base.Add(500*time.Millisecond)))).To(Succeed())
		Expect(store.Create(ctx, newJob("j3", "alice", StatusPending, base.Add(time.Second)))).To(Succeed())

		jobs, err := store.List(ctx, "alice", Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(3))
		Expect(jobs[0].ID).To(Equal("j3"))
		Expect(jobs[1].ID).To(Equal("j2"))
		Expect(jobs[2].ID).To(Equal("j1"))
	})
})
