package repositories

import (
	"callmesh/internal/core/ports"
	"callmesh/internal/infrastructure/repositories/memory"
	redisrepo "callmesh/internal/infrastructure/repositories/redis"
	"callmesh/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories backed by Redis when available,
// falling back to in-memory implementations otherwise.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateCallRecordRepository creates the call history store.
func (f *RepositoryFactory) CreateCallRecordRepository() ports.CallRecordRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisCallRecordRepository(f.redisClient)
	}
	return memory.NewMemoryCallRecordRepository()
}

// Close releases the underlying Redis connection, if any.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
