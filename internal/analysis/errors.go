package analysis

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is a non-success response from the document-understanding
// service, carrying the provider's status code and body text.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error (status %d): %s", e.StatusCode, e.Body)
}

// CostLimitError reports a spend ceiling violation. The spend that crossed
// the ceiling is already on the ledger; the error blocks the call and every
// one after it.
type CostLimitError struct {
	Scope string // "daily" or "monthly"
	Limit float64
	Total float64
}

func (e *CostLimitError) Error() string {
	return fmt.Sprintf("%s cost limit of $%.2f exceeded (current: $%.4f)", e.Scope, e.Limit, e.Total)
}

// retryable reports whether a failed call is worth another attempt.
// Credential failures and cost ceiling violations are final.
func retryable(err error) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		if serviceErr.StatusCode == http.StatusUnauthorized || serviceErr.StatusCode == http.StatusForbidden {
			return false
		}
	}
	var costErr *CostLimitError
	return !errors.As(err, &costErr)
}
