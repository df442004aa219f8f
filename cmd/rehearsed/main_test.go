package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rehearsed/rehearsed/agent"
	"github.com/rehearsed/rehearsed/config"
	"github.com/rehearsed/rehearsed/internal/database"
	"github.com/rehearsed/rehearsed/store"
)

func TestOpenDatabase_UnsupportedDriver(t *testing.T) {
	_, err := openDatabase(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger := initLogger(config.LogConfig{Level: "debug", Format: format})
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel), format)
	}
	assert.False(t, initLogger(config.LogConfig{Level: "warn"}).Core().Enabled(zap.InfoLevel))
}

func TestSeedExampleBuildsScenario(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := openDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "seed.db"),
	}, logger)
	require.NoError(t, err)
	require.NoError(t, migrateAll(ctx, db, logger))

	cfg := database.DefaultPoolConfig()
	cfg.HealthCheckInterval = 0
	pool, err := database.NewPoolManager(db, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	result, err := seedFromFile(ctx, pool, filepath.Join("..", "..", "configs", "seed.example.yaml"), logger)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scenarios)
	assert.Equal(t, 3, result.Agents)
	assert.Equal(t, 2, result.Links)

	// 重复导入会跳过同名场景
	again, err := seedFromFile(ctx, pool, filepath.Join("..", "..", "configs", "seed.example.yaml"), logger)
	require.NoError(t, err)
	assert.Zero(t, again.Scenarios)
	assert.Len(t, again.Skipped, 1)

	records := store.NewRecordStore(pool.DB(), logger)
	scenarios, err := records.ListScenarios(ctx)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)

	registry := agent.NewRegistry(records, agent.NewBuilder(nil, "feedback_agent"), agent.BuildOptions{}, logger)
	_, err = registry.Rebuild(ctx, scenarios[0].ID)
	require.NoError(t, err)

	entry, err := registry.Lookup("classroom")
	require.NoError(t, err)
	require.Len(t, entry.Node.Children, 2)
	assert.Equal(t, "student_amy", entry.Node.Children[0].Name)
	assert.Equal(t, "feedback_agent", entry.Node.Children[1].Name)
}
