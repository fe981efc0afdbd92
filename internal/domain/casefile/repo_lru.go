package casefile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// caseEntry wraps one stored case file with its two locks. op serializes
// long-running cycles (debate, summary) per case without blocking readers;
// stateMu guards the case file itself so reads stay cheap while a cycle's
// backend call is in flight.
type caseEntry struct {
	op      chan struct{}
	stateMu sync.RWMutex
	cf      *CaseFile
}

type lruRepo struct {
	cache  *expirable.LRU[uuid.UUID, *caseEntry]
	logger zerolog.Logger
}

// NewLRURepo returns a Repository backed by an in-memory LRU with per-entry
// TTL. Capacity 0 disables the size bound and ttl 0 disables expiry; both
// are expected to be positive in production so abandoned cases age out.
func NewLRURepo(capacity int, ttl time.Duration, logger zerolog.Logger) Repository {
	r := &lruRepo{logger: logger}
	r.cache = expirable.NewLRU[uuid.UUID, *caseEntry](capacity, r.onEvict, ttl)
	return r
}

func (r *lruRepo) onEvict(id uuid.UUID, _ *caseEntry) {
	r.logger.Debug().Str("case_id", id.String()).Msg("case evicted")
}

func (r *lruRepo) Create(_ context.Context, cf *CaseFile) error {
	entry := &caseEntry{
		op: make(chan struct{}, 1),
		cf: cf.Clone(),
	}
	r.cache.Add(cf.ID, entry)
	return nil
}

func (r *lruRepo) Get(_ context.Context, id uuid.UUID) (*CaseFile, error) {
	entry, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	entry.stateMu.RLock()
	defer entry.stateMu.RUnlock()
	return entry.cf.Clone(), nil
}

func (r *lruRepo) List(_ context.Context, limit, offset int) ([]*CaseFile, int, error) {
	entries := r.cache.Values()
	all := make([]*CaseFile, 0, len(entries))
	for _, entry := range entries {
		entry.stateMu.RLock()
		all = append(all, entry.cf.Clone())
		entry.stateMu.RUnlock()
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	if offset >= total {
		return []*CaseFile{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *lruRepo) Delete(_ context.Context, id uuid.UUID) error {
	if !r.cache.Remove(id) {
		return ErrNotFound
	}
	return nil
}

func (r *lruRepo) Update(_ context.Context, id uuid.UUID, fn func(*CaseFile) error) (*CaseFile, error) {
	entry, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	entry.stateMu.Lock()
	defer entry.stateMu.Unlock()

	// Mutate a copy so a failed fn leaves the stored state untouched.
	next := entry.cf.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	entry.cf = next
	return next.Clone(), nil
}

func (r *lruRepo) Acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	entry, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	select {
	case entry.op <- struct{}{}:
		return func() { <-entry.op }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *lruRepo) Len() int {
	return r.cache.Len()
}
