package job

import (
	"context"
	"errors"
)

// ErrNotFound covers both a missing job and a job owned by someone else;
// callers cannot distinguish the two.
var ErrNotFound = errors.New("job not found")

// ErrCancelled is returned by pipeline transitions when the job was
// cancelled out from under them.
var ErrCancelled = errors.New("job cancelled")

// Filter narrows List results.
type Filter struct {
	Status Status
	Limit  int
}

// Store is the keyed record store a Manager runs against.
type Store interface {
	Create(ctx context.Context, j *Job) error
	// Update applies mutate to the stored record under the store's write
	// lock and persists the result.
	Update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error)
	// Get returns the job only when both id and userID match.
	Get(ctx context.Context, id, userID string) (*Job, error)
	// List returns the owner's jobs, newest first.
	List(ctx context.Context, userID string, f Filter) ([]*Job, error)
	Close() error
}
