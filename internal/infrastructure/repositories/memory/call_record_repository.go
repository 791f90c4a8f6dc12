package memory

import (
	"context"
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

const defaultCapacity = 1000

// MemoryCallRecordRepository keeps finished-call records in a bounded
// in-process ring, newest first. Used when Redis is disabled or unreachable.
type MemoryCallRecordRepository struct {
	records []*domain.CallRecord
	cap     int
	mu      sync.RWMutex
}

func NewMemoryCallRecordRepository() ports.CallRecordRepository {
	return &MemoryCallRecordRepository{cap: defaultCapacity}
}

func (r *MemoryCallRecordRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append([]*domain.CallRecord{record}, r.records...)
	if len(r.records) > r.cap {
		r.records = r.records[:r.cap]
	}
	return nil
}

func (r *MemoryCallRecordRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]*domain.CallRecord, limit)
	copy(out, r.records[:limit])
	return out, nil
}
