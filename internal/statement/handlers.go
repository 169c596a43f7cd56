package statement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"bankscan/internal/analysis"
	"bankscan/internal/job"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// isPDF sniffs the document magic; uploads are PDF-only.
func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// readStatement pulls the uploaded document out of a multipart form and
// rejects anything that is not a PDF under the size ceiling before the
// pipeline sees it.
func (s *Server) readStatement(w http.ResponseWriter, r *http.Request) ([]byte, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			message = fmt.Sprintf("File is too large. Maximum size is %dMB.", s.maxUploadSize>>20)
		}
		writeError(w, http.StatusBadRequest, message)
		return nil, nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return nil, nil, false
	}
	defer f.Close()

	if header.Size > s.maxUploadSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("File is too large. Maximum size is %dMB.", s.maxUploadSize>>20))
		return nil, nil, false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return nil, nil, false
	}

	if !isPDF(data) {
		writeError(w, http.StatusBadRequest, "Only PDF statements are supported")
		return nil, nil, false
	}
	return data, header, true
}

// extractionStatus maps a pipeline error to an HTTP status.
func extractionStatus(err error) int {
	var costErr *analysis.CostLimitError
	switch {
	case errors.Is(err, ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.As(err, &costErr):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// handleAnalyze runs the pipeline synchronously and returns the aggregated
// debits.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, userID string) {
	data, _, ok := s.readStatement(w, r)
	if !ok {
		return
	}

	transactions, summary, err := s.service.Extract(r.Context(), data)
	if err != nil {
		slog.Error("Error analyzing statement", "error", err)
		writeError(w, extractionStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"summary":      summary,
	})
}

// handleAnalyzeBatch analyzes several documents in one request; per-item
// failures are reported per item.
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}

	items := make([]BatchItem, 0, len(files))
	for _, header := range files {
		if header.Size > s.maxUploadSize {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File %s is too large", header.Filename))
			return
		}
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Error reading file")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Error reading file")
			return
		}
		items = append(items, BatchItem{Name: header.Filename, Data: data})
	}

	results := s.service.ExtractBatch(r.Context(), items)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleCreateJob starts an asynchronous extraction and returns the pending
// job record.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request, userID string) {
	data, header, ok := s.readStatement(w, r)
	if !ok {
		return
	}

	j, err := s.service.ExtractAsync(r.Context(), data, FileMeta{Name: header.Filename, Size: header.Size}, userID)
	if err != nil {
		slog.Error("Error creating job", "error", err)
		writeError(w, extractionStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, j)
}

// handleGetJob returns a single job scoped to its owner.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, userID string) {
	j, err := s.service.JobStatus(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		slog.Error("Error getting job", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, j)
}

// handleListJobs returns the owner's jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request, userID string) {
	filter := job.Filter{Status: job.Status(r.URL.Query().Get("status"))}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.service.ListJobs(r.Context(), userID, filter)
	if err != nil {
		slog.Error("Error listing jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleCancelJob flips a pending or processing job to cancelled.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, userID string) {
	j, err := s.service.CancelJob(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, j)
}

// handleExportJob downloads a completed job's transactions as XLSX.
func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request, userID string) {
	j, err := s.service.JobStatus(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		slog.Error("Error getting job", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if j.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("Job is %s, not completed", j.Status))
		return
	}

	var transactions []Transaction
	if len(j.Result) > 0 {
		if err := json.Unmarshal(j.Result, &transactions); err != nil {
			slog.Error("Error decoding job result", "job_id", j.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	workbook, err := ExportXLSX(transactions)
	if err != nil {
		slog.Error("Error exporting workbook", "job_id", j.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transactions-%s.xlsx"`, j.ID))
	w.Write(workbook)
}

// handleHealth reports liveness plus orchestrator counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{"status": "healthy"}
	if s.stats != nil {
		response["metrics"] = s.stats.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}
