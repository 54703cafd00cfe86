package monitoring

import (
	"context"
	"fmt"
	"time"

	"meshvoice/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddChannelStoreCheck verifies the membership store answers reads.
func (h *HealthChecker) AddChannelStoreCheck(repo ports.ChannelRepository, interval, timeout time.Duration) {
	h.AddCheck("channel_store", func(ctx context.Context) (bool, error) {
		if _, err := repo.Memberships(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddPlaceholderCheck fails until the placeholder sources exist; sessions
// cannot negotiate without them.
func (h *HealthChecker) AddPlaceholderCheck(media ports.MediaSourceProvider, interval, timeout time.Duration) {
	h.AddCheck("placeholders", func(ctx context.Context) (bool, error) {
		if media.PlaceholderAudio() == nil || media.PlaceholderVideo() == nil {
			return false, fmt.Errorf("placeholder sources not initialized")
		}
		return true, nil
	}, interval, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.Status(ctx).Status == statusHealthy
}
