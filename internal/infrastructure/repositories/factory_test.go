package repositories

import (
	"context"
	"testing"

	"meshvoice/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFactory_MemoryFallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Node.PresetChannels = true
	cfg.Membership.Backend = "redis"
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, "100.64.0.1", zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))

	repo, err := f.CreateChannelRepository(context.Background())
	require.NoError(t, err)
	preset, err := repo.IsPresetChannels(context.Background())
	require.NoError(t, err)
	assert.True(t, preset)

	assert.NotNil(t, f.CreateStatusRepository())
	assert.NotNil(t, f.CreateStreamRepository())
}
