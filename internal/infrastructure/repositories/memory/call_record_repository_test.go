package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"callmesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(i int) *domain.CallRecord {
	return &domain.CallRecord{
		CallID:    domain.CallID(fmt.Sprintf("call-%d", i)),
		Type:      domain.CallTypeAudio,
		Direction: domain.DirectionOutgoing,
		Outcome:   domain.OutcomeCompleted,
		Duration:  time.Duration(i) * time.Second,
		EndedAt:   time.Now(),
	}
}

func TestSave_NewestFirst(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(ctx, record(i)))
	}

	records, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domain.CallID("call-2"), records[0].CallID)
	assert.Equal(t, domain.CallID("call-0"), records[2].CallID)
}

func TestList_LimitAndOverread(t *testing.T) {
	repo := NewMemoryCallRecordRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, record(i)))
	}

	records, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.CallID("call-4"), records[0].CallID)

	records, err = repo.List(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestList_EmptyRepository(t *testing.T) {
	repo := NewMemoryCallRecordRepository()

	records, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSave_EvictsBeyondCapacity(t *testing.T) {
	repo := &MemoryCallRecordRepository{cap: 3}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, record(i)))
	}

	records, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domain.CallID("call-4"), records[0].CallID)
	assert.Equal(t, domain.CallID("call-2"), records[2].CallID)
}
