package casefile

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a case id resolves to nothing, either because
// it never existed or because the store evicted it.
var ErrNotFound = errors.New("case not found")

// Repository stores case files. Implementations must hand out deep copies
// so callers cannot mutate shared state, and must serialize Update calls
// per case.
type Repository interface {
	// Create stores a new case file.
	Create(ctx context.Context, cf *CaseFile) error

	// Get returns a copy of the case file.
	Get(ctx context.Context, id uuid.UUID) (*CaseFile, error)

	// List returns a page of case files ordered by creation time, newest
	// first, plus the total count.
	List(ctx context.Context, limit, offset int) ([]*CaseFile, int, error)

	// Delete removes the case file. Deleting an absent case is an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// Update applies fn to the stored case file under the state lock.
	// When fn returns an error the mutation is discarded. The returned
	// case file is a copy of the post-update state.
	Update(ctx context.Context, id uuid.UUID, fn func(*CaseFile) error) (*CaseFile, error)

	// Acquire takes the per-case operation lock, queueing behind any
	// in-flight debate or summary cycle. The returned release function
	// must be called exactly once. Acquisition honors ctx cancellation.
	Acquire(ctx context.Context, id uuid.UUID) (func(), error)

	// Len reports how many cases the store currently holds.
	Len() int
}
