package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

type CallRecordRepository interface {
	Save(ctx context.Context, record *domain.CallRecord) error
	List(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}
