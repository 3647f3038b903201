package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/orchestrator"
	"aicore/internal/routing"
)

// clearEnv keeps the developer's environment out of the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ZAI_API_KEY", "")
	t.Setenv("AICORE_PROVIDER_API_KEY", "")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "glm-4.7", cfg.Provider.Model)
	assert.Equal(t, 3, cfg.Provider.MaxConcurrent)
	assert.Equal(t, 3, cfg.Provider.MaxContinuations)
	assert.True(t, cfg.Routing.Auto)
	assert.Equal(t, routing.DefaultModels(), cfg.Routing.Models)
	assert.Equal(t, "autopilot", cfg.Autopilot.ExecutionMode)
	assert.Equal(t, 3, cfg.Autopilot.MaxWorkers)
	assert.Equal(t, time.Second, cfg.Autopilot.RetryDelay)
	assert.Equal(t, 50, cfg.Session.MaxMessages)
	assert.Equal(t, 100000, cfg.Session.MaxTokens)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  api_key: ${TEST_AICORE_KEY}
  timeout: 90s
routing:
  auto: false
  models:
    hard: glm-5-plus
autopilot:
  max_workers: 8
  parallel: false
  execution_mode: supervised
session:
  max_messages: 20
`), 0o644))
	t.Setenv("TEST_AICORE_KEY", "expanded-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "expanded-key", cfg.Provider.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Provider.Timeout)
	assert.False(t, cfg.Routing.Auto)
	assert.Equal(t, "glm-5-plus", cfg.Routing.Models.Hard)
	assert.Equal(t, "glm-4.7", cfg.Routing.Models.Medium, "unset nested keys keep defaults")
	assert.Equal(t, 8, cfg.Autopilot.MaxWorkers)
	assert.False(t, cfg.Autopilot.Parallel)
	assert.Equal(t, 20, cfg.Session.MaxMessages)
	assert.Equal(t, 100000, cfg.Session.MaxTokens)

	oc := cfg.Orchestrator()
	assert.Equal(t, orchestrator.ModeSupervised, oc.ExecutionMode)
	assert.Equal(t, 8, oc.Autopilot.MaxWorkers)

	rc := cfg.RoutingConfig()
	assert.Equal(t, "glm-5-plus", rc.Models.Hard)
	assert.Equal(t, cfg.Provider.Model, rc.DefaultModel)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routing: [oops"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ZAI_API_KEY", "env-zai-key")
	t.Setenv("AICORE_AUTOPILOT_MAX_WORKERS", "2")
	t.Setenv("AICORE_ROUTING_VISION", "false")
	t.Setenv("AICORE_ROUTING_MODELS_SIMPLE", "glm-4-air")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-zai-key", cfg.Provider.APIKey)
	assert.Equal(t, 2, cfg.Autopilot.MaxWorkers)
	assert.False(t, cfg.Routing.Vision)
	assert.Equal(t, "glm-4-air", cfg.Routing.Models.Simple)
}

func TestSaveLoad_OmitsAPIKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "secret"
	cfg.Routing.VisionModels.Medium = "glm-4.6v-plus"
	cfg.Subagents.Watch = false
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Provider.APIKey)
	assert.Equal(t, "glm-4.6v-plus", loaded.Routing.VisionModels.Medium)
	assert.False(t, loaded.Subagents.Watch)
	assert.Equal(t, cfg.Provider.Timeout, loaded.Provider.Timeout)
	assert.Equal(t, "secret", cfg.Provider.APIKey, "Save must not mutate the receiver")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrNoAPIKey)

	cfg.Provider.APIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.Autopilot.ExecutionMode = "yolo"
	cfg.Session.MaxMessages = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_mode")
	assert.Contains(t, err.Error(), "session limits")
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", ".aicore", "aicore.db"), ResolvePath("/ws", filepath.Join(".aicore", "aicore.db")))
	assert.Equal(t, "/abs/db", ResolvePath("/ws", "/abs/db"))
	assert.Equal(t, "", ResolvePath("/ws", ""))
	assert.Equal(t, filepath.Join("/ws", Dir, "config.yaml"), DefaultPath("/ws"))
}
