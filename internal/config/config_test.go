package config_test

import (
	"testing"

	"github.com/agentguard/agentguard/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_FILE", "")
	t.Setenv("ENFORCEMENT_HMAC_KEY", "")
	t.Setenv("AUTO_SEED", "")
	t.Setenv("SKIP_BACKGROUND_SERVICES", "")
	t.Setenv("PORT", "")
	t.Setenv("AGENTGUARD_PORT", "")

	cfg := config.Load()

	assert.Equal(t, "agentguard.db", cfg.DatabaseFile)
	assert.Equal(t, "dev-secret", cfg.EnforcementHMACKey)
	assert.True(t, cfg.AutoSeed)
	assert.False(t, cfg.SkipBackgroundService)
	assert.Equal(t, "5073", cfg.Port)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_FILE", "/tmp/custom.db")
	t.Setenv("ENFORCEMENT_HMAC_KEY", "s3cr3t")
	t.Setenv("AUTO_SEED", "false")
	t.Setenv("SKIP_BACKGROUND_SERVICES", "true")

	cfg := config.Load()

	assert.Equal(t, "/tmp/custom.db", cfg.DatabaseFile)
	assert.Equal(t, "s3cr3t", cfg.EnforcementHMACKey)
	assert.False(t, cfg.AutoSeed)
	assert.True(t, cfg.SkipBackgroundService)
}
