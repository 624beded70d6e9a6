package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "be-tprm-approvals", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, "tprm_approvals", cfg.Database.Database)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Redis.Enabled)

	assert.Equal(t, 3, cfg.Workflow.RetryMaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Workflow.RetryBaseDelay)
	assert.Equal(t, time.Second, cfg.Workflow.RetryMaxDelay)
	assert.Equal(t, 24*time.Hour, cfg.Workflow.IdempotencyTTL)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}
