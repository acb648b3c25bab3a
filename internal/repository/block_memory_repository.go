package repository

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/identity-api/internal/models"
)

// BlockMutator computes the next state of a guard entry from the current one.
// current is nil when the key is absent. Returning nil deletes the entry,
// returning current unchanged skips the write. ttl bounds how long a shared
// store keeps the entry around; it never shortens a running ban. Mutators may
// be re-run after a lost race and must not have side effects.
type BlockMutator func(current *models.BlockEntry) (next *models.BlockEntry, ttl time.Duration)

// BlockMemoryRepository keeps guard entries in process memory. State is local
// to one instance and is lost on restart.
type BlockMemoryRepository struct {
	entries sync.Map
}

// NewBlockMemoryRepository constructs an empty store.
func NewBlockMemoryRepository() *BlockMemoryRepository {
	return &BlockMemoryRepository{}
}

// Update applies fn atomically for key using a read, compute, compare-and-swap
// loop. Unrelated keys never contend.
func (r *BlockMemoryRepository) Update(ctx context.Context, key string, fn BlockMutator) (*models.BlockEntry, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, loaded := r.entries.Load(key)
		var current *models.BlockEntry
		if loaded {
			current = raw.(*models.BlockEntry)
		}

		next, _ := fn(current)
		switch {
		case next == current:
			return current, nil
		case next == nil:
			if r.entries.CompareAndDelete(key, raw) {
				return nil, nil
			}
		case !loaded:
			if _, exists := r.entries.LoadOrStore(key, next); !exists {
				return next, nil
			}
		default:
			if r.entries.CompareAndSwap(key, raw, next) {
				return next, nil
			}
		}
	}
}

// Get returns the current entry for key, or nil.
func (r *BlockMemoryRepository) Get(_ context.Context, key string) (*models.BlockEntry, error) {
	raw, ok := r.entries.Load(key)
	if !ok {
		return nil, nil
	}
	return raw.(*models.BlockEntry), nil
}
