package statement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"bankscan/internal/analysis"
	"bankscan/internal/job"
)

// Analyzer is the orchestrated external-call surface the pipeline consumes.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// Splitter produces self-contained sub-documents from statement bytes.
type Splitter interface {
	PageCount(data []byte) (int, error)
	Split(data []byte) ([]Chunk, error)
	PagesPerChunk() int
}

// Config tunes the extraction pipeline. Zero values select defaults.
type Config struct {
	Model            string
	MaxTokens        int
	PagesPerChunk    int
	BatchConcurrency int
	BatchStagger     time.Duration
}

// FileMeta describes an uploaded document.
type FileMeta struct {
	Name string
	Size int64
}

// Service runs the extraction pipeline: chunk, analyze each chunk,
// aggregate. Chunks within one document are processed sequentially because
// the rate limiter and the cost ledger are shared, budget-bound resources.
type Service struct {
	analyzer Analyzer
	jobs     *job.Manager
	splitter Splitter

	model            string
	maxTokens        int
	batchConcurrency int
	batchStagger     time.Duration

	logger *slog.Logger
}

// NewService creates a service with a real chunker.
func NewService(analyzer Analyzer, jobs *job.Manager, cfg Config) *Service {
	return NewServiceWithDeps(analyzer, jobs, NewChunker(cfg.PagesPerChunk), cfg, nil)
}

// NewServiceWithDeps creates a service with injected dependencies for
// testing.
func NewServiceWithDeps(analyzer Analyzer, jobs *job.Manager, splitter Splitter, cfg Config, logger *slog.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-20241022"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 2
	}
	if cfg.BatchStagger <= 0 {
		cfg.BatchStagger = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		analyzer:         analyzer,
		jobs:             jobs,
		splitter:         splitter,
		model:            cfg.Model,
		maxTokens:        cfg.MaxTokens,
		batchConcurrency: cfg.BatchConcurrency,
		batchStagger:     cfg.BatchStagger,
		logger:           logger,
	}
}

// Extract runs the pipeline synchronously and returns the aggregated
// debits. A failing chunk is logged and skipped so the result reflects the
// chunks that succeeded; a cost ceiling violation aborts the run.
func (s *Service) Extract(ctx context.Context, data []byte) ([]Transaction, Summary, error) {
	chunks, err := s.splitter.Split(data)
	if err != nil {
		return nil, Summary{}, err
	}

	results := make([][]Transaction, 0, len(chunks))
	for _, chunk := range chunks {
		transactions, err := s.processChunk(ctx, chunk)
		if err != nil {
			var costErr *analysis.CostLimitError
			if errors.As(err, &costErr) {
				return nil, Summary{}, err
			}
			s.logger.Warn("Chunk failed, skipping",
				"chunk", chunk.Index,
				"pages", fmt.Sprintf("%d-%d", chunk.Pages.Start, chunk.Pages.End),
				"error", err)
			continue
		}
		results = append(results, transactions)
	}

	final, summary := Aggregate(results)
	return final, summary, nil
}

func (s *Service) processChunk(ctx context.Context, chunk Chunk) ([]Transaction, error) {
	result, err := s.analyzer.Analyze(ctx, analysis.Request{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Prompt:    extractionPrompt,
		MIMEType:  "application/pdf",
		Payload:   chunk.Data,
	})
	if err != nil {
		return nil, err
	}
	return ParseTransactions(result.Text, s.logger), nil
}

// ExtractAsync creates a pending job and runs the pipeline in the
// background. It returns before any chunk is processed; callers poll the
// job for progress and the result. The page count runs synchronously so a
// malformed upload is rejected before a job record exists.
func (s *Service) ExtractAsync(ctx context.Context, data []byte, meta FileMeta, userID string) (*job.Job, error) {
	pages, err := s.splitter.PageCount(data)
	if err != nil {
		return nil, err
	}
	per := s.splitter.PagesPerChunk()

	j, err := s.jobs.Create(ctx, userID, job.FileMeta{
		Name:        meta.Name,
		Size:        meta.Size,
		TotalPages:  pages,
		ChunksTotal: (pages + per - 1) / per,
	})
	if err != nil {
		return nil, err
	}

	go s.runJob(j.ID, data)
	return j, nil
}

// runJob owns the job record for the duration of the background run. The
// originating request has already returned; progress and the terminal state
// travel through the job store only.
func (s *Service) runJob(jobID string, data []byte) {
	ctx := context.Background()
	if err := s.executeJob(ctx, jobID, data); err != nil {
		s.logger.Error("Job failed", "job_id", jobID, "error", err)
		if _, failErr := s.jobs.Fail(ctx, jobID, err.Error()); failErr != nil {
			s.logger.Error("Error marking job failed", "job_id", jobID, "error", failErr)
		}
	}
}

func (s *Service) executeJob(ctx context.Context, jobID string, data []byte) error {
	chunks, err := s.splitter.Split(data)
	if err != nil {
		return err
	}
	if _, err := s.jobs.Start(ctx, jobID); err != nil {
		if errors.Is(err, job.ErrCancelled) {
			s.logger.Info("Job cancelled before processing", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("starting job: %w", err)
	}

	results := make([][]Transaction, 0, len(chunks))
	running := 0
	for i, chunk := range chunks {
		transactions, err := s.processChunk(ctx, chunk)
		if err != nil {
			var costErr *analysis.CostLimitError
			if errors.As(err, &costErr) {
				return err
			}
			s.logger.Warn("Chunk failed, skipping", "job_id", jobID, "chunk", chunk.Index, "error", err)
			transactions = nil
		}
		results = append(results, transactions)
		running += len(transactions)

		// Progress doubles as the between-chunk cancellation check; an
		// in-flight provider call is never interrupted.
		if _, err := s.jobs.Progress(ctx, jobID, i+1, running); err != nil {
			if errors.Is(err, job.ErrCancelled) {
				s.logger.Info("Job cancelled, stopping chunk dispatch", "job_id", jobID)
				return nil
			}
			return fmt.Errorf("recording progress: %w", err)
		}
	}

	final, summary := Aggregate(results)
	payload, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	counts := job.Counts{Total: summary.Total, Validated: summary.Validated, Final: summary.Final}
	if _, err := s.jobs.Complete(ctx, jobID, counts, payload); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}

	s.logger.Info("Job completed", "job_id", jobID, "transactions", summary.Final)
	return nil
}

// JobStatus retrieves a job scoped to its owner.
func (s *Service) JobStatus(ctx context.Context, id, userID string) (*job.Job, error) {
	return s.jobs.Get(ctx, id, userID)
}

// ListJobs returns the owner's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string, f job.Filter) ([]*job.Job, error) {
	return s.jobs.List(ctx, userID, f)
}

// CancelJob flips an owner's pending or processing job to cancelled.
func (s *Service) CancelJob(ctx context.Context, id, userID string) (*job.Job, error) {
	return s.jobs.Cancel(ctx, id, userID)
}

// BatchItem is one document in a multi-statement batch.
type BatchItem struct {
	Name string
	Data []byte
}

// BatchResult reports one document's outcome; a failed item never aborts
// the batch.
type BatchResult struct {
	Name         string        `json:"name"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Summary      Summary       `json:"summary"`
	Error        string        `json:"error,omitempty"`
}

// ExtractBatch analyzes several independent documents with bounded
// concurrency, staggering starts so the shared limiter is not hit all at
// once.
func (s *Service) ExtractBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.batchConcurrency)

	for i, item := range items {
		group.Go(func() error {
			if i > 0 {
				timer := time.NewTimer(s.batchStagger)
				select {
				case <-ctx.Done():
					timer.Stop()
					results[i] = BatchResult{Name: item.Name, Error: ctx.Err().Error()}
					return nil
				case <-timer.C:
				}
			}
			transactions, summary, err := s.Extract(ctx, item.Data)
			result := BatchResult{Name: item.Name, Summary: summary}
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Transactions = transactions
			}
			results[i] = result
			return nil
		})
	}
	_ = group.Wait()
	return results
}
