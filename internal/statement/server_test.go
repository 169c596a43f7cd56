package statement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bankscan/internal/analysis"
	"bankscan/internal/job"
)

// fakeStats satisfies StatsSource for the health endpoint.
type fakeStats struct{}

func (fakeStats) Stats() analysis.Stats {
	return analysis.Stats{
		Cost:    analysis.CostStats{DailyTotal: 1.25},
		Limiter: analysis.LimiterStats{PerMinute: 45},
		Cache:   analysis.CacheStats{Hits: 3},
	}
}

func uploadRequest(target, field, filename string, content []byte) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(content)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	req := httptest.NewRequest("POST", target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

var _ = Describe("Server", func() {
	var (
		analyzer *fakeAnalyzer
		splitter *fakeSplitter
		manager  *job.Manager
		server   *Server
		auth     BasicAuth
		recorder *httptest.ResponseRecorder
	)

	pdfBytes := []byte("%PDF-1.4 fake statement content")

	BeforeEach(func() {
		analyzer = &fakeAnalyzer{handler: func(req analysis.Request) (*analysis.Result, error) {
			return &analysis.Result{Text: `[{"date":"01/04/2025","amount":42.50,"recipient":"Grocer"}]`}, nil
		}}
		splitter = &fakeSplitter{pages: 2, per: 2, chunks: makeChunks(1, 2)}
		manager = job.NewManager(newMemStore())
		auth = BasicAuth{}
		recorder = httptest.NewRecorder()
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(analyzer, manager, splitter, Config{}, nil)
		server = NewServerWithMux(service, fakeStats{}, auth, 1<<20, http.NewServeMux())
	})

	Describe("POST /api/statements", func() {
		It("analyzes an uploaded statement and returns the aggregated debits", func() {
			server.ServeHTTP(recorder, uploadRequest("/api/statements", "file", "statement.pdf", pdfBytes))

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var response struct {
				Transactions []Transaction `json:"transactions"`
				Summary      Summary       `json:"summary"`
			}
			Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
			Expect(response.Transactions).To(HaveLen(1))
			Expect(response.Summary.Final).To(Equal(1))
		})

		It("rejects a request without a file", func() {
			req := httptest.NewRequest("POST", "/api/statements", nil)
			req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an upload over the size ceiling", func() {
			huge := append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 2<<20)...)
			server.ServeHTTP(recorder, uploadRequest("/api/statements", "file", "statement.pdf", huge))

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			Expect(recorder.Body.String()).To(ContainSubstring("too large"))
			Expect(analyzer.callCount()).To(BeZero())
		})

		It("rejects a non-PDF upload before the pipeline runs", func() {
			server.ServeHTTP(recorder, uploadRequest("/api/statements", "file", "statement.csv", []byte("date,amount")))

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			Expect(recorder.Body.String()).To(ContainSubstring("Only PDF statements are supported"))
			Expect(analyzer.callCount()).To(BeZero())
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "alice", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			req := httptest.NewRequest("GET", "/api/jobs", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			Expect(recorder.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("accepts the configured credentials and scopes jobs to the username", func() {
			req := httptest.NewRequest("GET", "/api/jobs", nil)
			req.SetBasicAuth("alice", "secret")
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Body.String()).To(MatchJSON("[]"))
		})

		It("does not serve the health endpoint behind auth", func() {
			req := httptest.NewRequest("GET", "/api/health", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /api/jobs", func() {
		It("accepts the upload and returns a pending job", func() {
			server.ServeHTTP(recorder, uploadRequest("/api/jobs", "file", "statement.pdf", pdfBytes))

			Expect(recorder.Code).To(Equal(http.StatusAccepted))
			var created job.Job
			Expect(json.Unmarshal(recorder.Body.Bytes(), &created)).To(Succeed())
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.FileName).To(Equal("statement.pdf"))
			Expect(created.ChunksTotal).To(Equal(1))

			Eventually(func() job.Status {
				j, err := manager.Get(context.Background(), created.ID, anonymousUser)
				if err != nil {
					return ""
				}
				return j.Status
			}, time.Second, 5*time.Millisecond).Should(Equal(job.StatusCompleted))
		})

		It("rejects a malformed document without creating a job", func() {
			splitter.countErr = fmt.Errorf("%w: garbage", ErrInvalidDocument)
			server.ServeHTTP(recorder, uploadRequest("/api/jobs", "file", "statement.pdf", pdfBytes))

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/jobs/{id}", func() {
		It("returns the job for its owner", func() {
			created, err := manager.Create(context.Background(), anonymousUser, job.FileMeta{Name: "statement.pdf", ChunksTotal: 3})
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest("GET", "/api/jobs/"+created.ID, nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var fetched job.Job
			Expect(json.Unmarshal(recorder.Body.Bytes(), &fetched)).To(Succeed())
			Expect(fetched.ID).To(Equal(created.ID))
		})

		It("returns not found for an unknown job", func() {
			req := httptest.NewRequest("GET", "/api/jobs/no-such-job", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/jobs/{id}/cancel", func() {
		It("cancels a pending job", func() {
			created, err := manager.Create(context.Background(), anonymousUser, job.FileMeta{Name: "statement.pdf"})
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest("POST", "/api/jobs/"+created.ID+"/cancel", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var cancelled job.Job
			Expect(json.Unmarshal(recorder.Body.Bytes(), &cancelled)).To(Succeed())
			Expect(cancelled.Status).To(Equal(job.StatusCancelled))
		})

		It("conflicts on a terminal job", func() {
			created, err := manager.Create(context.Background(), anonymousUser, job.FileMeta{Name: "statement.pdf"})
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Fail(context.Background(), created.ID, "boom")
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest("POST", "/api/jobs/"+created.ID+"/cancel", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("GET /api/jobs/{id}/export", func() {
		It("downloads a completed job's transactions as a workbook", func() {
			created, err := manager.Create(context.Background(), anonymousUser, job.FileMeta{Name: "statement.pdf", ChunksTotal: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Start(context.Background(), created.ID)
			Expect(err).NotTo(HaveOccurred())
			result := json.RawMessage(`[{"date":"01/04/2025","amount":42.50,"recipient":"Grocer"}]`)
			_, err = manager.Complete(context.Background(), created.ID, job.Counts{Total: 1, Validated: 1, Final: 1}, result)
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest("GET", "/api/jobs/"+created.ID+"/export", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Header().Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			Expect(recorder.Header().Get("Content-Disposition")).To(ContainSubstring(created.ID))
			Expect(recorder.Body.Len()).To(BeNumerically(">", 0))
		})

		It("conflicts when the job is not completed", func() {
			created, err := manager.Create(context.Background(), anonymousUser, job.FileMeta{Name: "statement.pdf"})
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest("GET", "/api/jobs/"+created.ID+"/export", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("GET /api/health", func() {
		It("reports liveness and orchestrator metrics", func() {
			req := httptest.NewRequest("GET", "/api/health", nil)
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var response struct {
				Status  string         `json:"status"`
				Metrics analysis.Stats `json:"metrics"`
			}
			Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
			Expect(response.Status).To(Equal("healthy"))
			Expect(response.Metrics.Cost.DailyTotal).To(Equal(1.25))
			Expect(response.Metrics.Cache.Hits).To(Equal(3))
		})
	})
})
