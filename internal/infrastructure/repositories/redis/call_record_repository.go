package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

const (
	recordListKey = "callmesh:call_records"
	recordListCap = 10000
)

// RedisCallRecordRepository persists finished-call records to a capped Redis
// list, newest first, so history survives node restarts. A circuit breaker
// keeps a flapping Redis from stalling call teardown.
type RedisCallRecordRepository struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewRedisCallRecordRepository(client *redis.Client) ports.CallRecordRepository {
	return &RedisCallRecordRepository{
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

func (r *RedisCallRecordRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	return r.breaker.Execute(ctx, func() error {
		pipe := r.client.Pipeline()
		pipe.LPush(ctx, recordListKey, data)
		pipe.LTrim(ctx, recordListKey, 0, recordListCap-1)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to persist call record: %w", err)
		}
		return nil
	})
}

func (r *RedisCallRecordRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = recordListCap
	}

	res, err := r.breaker.ExecuteWithResult(ctx, func() (interface{}, error) {
		return r.client.LRange(ctx, recordListKey, 0, int64(limit-1)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read call records: %w", err)
	}
	raw := res.([]string)

	records := make([]*domain.CallRecord, 0, len(raw))
	for _, item := range raw {
		var record domain.CallRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}
