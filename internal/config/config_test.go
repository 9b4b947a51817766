package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/oni"
	cfg.Sessions.DBPath = "/var/lib/oni/sessions.db"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.Sessions.MaxPerUser)
	assert.Equal(t, "@every 30m", cfg.Sessions.SyncSchedule)
	assert.True(t, cfg.Sessions.SyncOnStart)
	assert.Equal(t, "default", cfg.Sessions.DefaultName)
	assert.Equal(t, "http://localhost:11434/v1/", cfg.LLM.BaseURL)
	assert.Equal(t, "llama2:13b", cfg.LLM.DefaultModel)
	assert.Equal(t, 60, cfg.LLM.TimeoutSeconds)
	assert.NotEmpty(t, cfg.LLM.SystemPrompt)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.False(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Audit.Enabled)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing db path", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.DBPath = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db_path")
	})

	t.Run("missing base url", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.BaseURL = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base_url")
	})

	t.Run("metrics enabled without addr", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics.addr")
	})

	t.Run("joins every validator error", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.MaxPerUser = 0
		cfg.Sessions.SyncSchedule = "whenever"
		cfg.Logging.Level = "loud"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sessions.max_per_user")
		assert.Contains(t, err.Error(), "sessions.sync_schedule")
		assert.Contains(t, err.Error(), "logging.level")
	})
}

func TestConfigString(t *testing.T) {
	s := validConfig().String()
	assert.True(t, strings.HasPrefix(s, "{"))
	assert.Contains(t, s, `"max_per_user": 5`)
}

func TestConfigLogDir(t *testing.T) {
	assert.Equal(t, "/var/lib/oni/logs", validConfig().LogDir())
}
