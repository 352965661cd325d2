package resilience

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Bulkhead bounds concurrent calls per tenant.
type Bulkhead struct {
	mu    sync.Mutex
	limit int64
	slots map[string]*semaphore.Weighted
}

func NewBulkhead(limit int) *Bulkhead {
	if limit <= 0 {
		limit = 1
	}
	return &Bulkhead{limit: int64(limit), slots: map[string]*semaphore.Weighted{}}
}

func (b *Bulkhead) Acquire(ctx context.Context, tenantID string) (func(), error) {
	sem := b.semaphore(tenantID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

func (b *Bulkhead) semaphore(tenantID string) *semaphore.Weighted {
	key := strings.ToLower(strings.TrimSpace(tenantID))
	b.mu.Lock()
	defer b.mu.Unlock()
	sem, ok := b.slots[key]
	if !ok {
		sem = semaphore.NewWeighted(b.limit)
		b.slots[key] = sem
	}
	return sem
}
