package repositories

import (
	"context"

	"meshvoice/internal/core/ports"
	"meshvoice/internal/infrastructure/repositories/memory"
	redisrepo "meshvoice/internal/infrastructure/repositories/redis"
	"meshvoice/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	namespace   string
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when it is enabled. The channel
// store falls back to memory when Redis is unreachable; the Redis relay has
// no fallback and fails later with a clear error.
func NewRepositoryFactory(cfg *config.Config, namespace string, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:       cfg,
		namespace: namespace,
		logger:    logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			namespace,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
		} else {
			factory.redisClient = client
			factory.useRedis = cfg.Membership.Backend == "redis"
		}
	}

	if factory.useRedis {
		logger.Info("using Redis channel repository")
	} else {
		logger.Info("using memory channel repository")
	}

	return factory
}

// CreateChannelRepository creates the membership store seeded with the
// configured channel mode.
func (f *RepositoryFactory) CreateChannelRepository(ctx context.Context) (ports.ChannelRepository, error) {
	if f.useRedis {
		repo := redisrepo.NewRedisChannelRepository(f.redisClient, f.namespace)
		if err := repo.SetPresetChannels(ctx, f.cfg.Node.PresetChannels); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return memory.NewMemoryChannelRepository(f.cfg.Node.PresetChannels), nil
}

// CreateStatusRepository always lives in memory; statuses describe live
// transports of this process.
func (f *RepositoryFactory) CreateStatusRepository() *memory.MemoryStatusRepository {
	return memory.NewMemoryStatusRepository()
}

// CreateStreamRepository always lives in memory; remote tracks cannot be
// serialized.
func (f *RepositoryFactory) CreateStreamRepository() ports.StreamRepository {
	return memory.NewMemoryStreamRepository()
}

// RedisClient returns the connected client, or nil.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
