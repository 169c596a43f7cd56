package job

import (
	"encoding/json"
	"time"
)

// Status is a processing job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a persisted, pollable record of one asynchronous extraction run.
type Job struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	Status                Status          `json:"status"`
	FileName              string          `json:"file_name,omitempty"`
	FileSize              int64           `json:"file_size,omitempty"`
	TotalPages            int             `json:"total_pages"`
	ChunksTotal           int             `json:"chunks_total"`
	ChunksProcessed       int             `json:"chunks_processed"`
	TotalTransactions     int             `json:"total_transactions"`
	ValidatedTransactions int             `json:"validated_transactions"`
	FinalTransactions     int             `json:"final_transactions"`
	ProgressPercentage    float64         `json:"progress_percentage"`
	Result                json.RawMessage `json:"result,omitempty"`
	ErrorMessage          string          `json:"error_message,omitempty"`
	StartedAt             time.Time       `json:"started_at"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}
