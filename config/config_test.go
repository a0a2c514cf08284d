package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Backend:            "docker",
			EnableLocalBackend: false,
		},
		Docker: DockerConfig{
			Image:               "lean-docker-mcp:latest",
			WorkingDir:          "/home/leanuser/project",
			User:                "leanuser",
			ContainerNamePrefix: "lean-docker-mcp",
			MemoryLimitMB:       256,
			CPULimit:            0.5,
			TimeoutSec:          30,
			PollIntervalMS:      100,
			StopGraceSec:        1,
			NetworkDisabled:     true,
		},
		Lean: LeanConfig{
			AllowedImports: []string{"Lean", "Init", "Std", "Mathlib"},
			BlockedImports: []string{"System.IO.Process"},
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		err := validConfig().validate()
		require.NoError(t, err)
	})

	t.Run("UnsupportedBackend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Backend = "podman"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported server.backend")
	})

	t.Run("LocalBackendRequiresOptIn", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Backend = "local"
		err := cfg.validate()
		require.Error(t, err)

		cfg.Server.EnableLocalBackend = true
		err = cfg.validate()
		require.NoError(t, err)
	})

	t.Run("EmptyImage", func(t *testing.T) {
		cfg := validConfig()
		cfg.Docker.Image = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "docker.image")
	})

	t.Run("NonPositiveTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Docker.TimeoutSec = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout_sec")
	})

	t.Run("NonPositiveMemory", func(t *testing.T) {
		cfg := validConfig()
		cfg.Docker.MemoryLimitMB = -1
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory_limit_mb")
	})

	t.Run("NonPositiveCPU", func(t *testing.T) {
		cfg := validConfig()
		cfg.Docker.CPULimit = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cpu_limit")
	})

	t.Run("NonPositivePollInterval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Docker.PollIntervalMS = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poll_interval_ms")
	})

	t.Run("NegativeStopGrace", func(t *testing.T) {
		cfg := validConfig()
		cfg.Docker.StopGraceSec = -1
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stop_grace_sec")
	})
}

func TestNewUsesDefaults(t *testing.T) {
	// No config file on the test search path, so New falls back to defaults.
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "docker", cfg.Server.Backend)
	assert.False(t, cfg.Server.EnableLocalBackend)
	assert.Equal(t, "lean-docker-mcp:latest", cfg.Docker.Image)
	assert.Equal(t, "/home/leanuser/project", cfg.Docker.WorkingDir)
	assert.Equal(t, "leanuser", cfg.Docker.User)
	assert.Equal(t, 256, cfg.Docker.MemoryLimitMB)
	assert.Equal(t, 0.5, cfg.Docker.CPULimit)
	assert.Equal(t, 30, cfg.Docker.TimeoutSec)
	assert.True(t, cfg.Docker.NetworkDisabled)
	assert.Contains(t, cfg.Lean.AllowedImports, "Mathlib")
	assert.Contains(t, cfg.Lean.BlockedImports, "System.IO.Process")
	assert.NotEmpty(t, cfg.Lean.DisallowedPatterns)
	assert.Equal(t, "production", cfg.Logging.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestNewReadsConfigFile(t *testing.T) {
	overrides := map[string]any{
		"server": map[string]any{
			"backend":              "local",
			"enable_local_backend": true,
		},
		"docker": map[string]any{
			"image":       "custom-lean:dev",
			"timeout_sec": 10,
		},
	}
	data, err := yaml.Marshal(overrides)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o600))
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Server.Backend)
	assert.Equal(t, "custom-lean:dev", cfg.Docker.Image)
	assert.Equal(t, 10, cfg.Docker.TimeoutSec)

	// Keys the file does not mention keep their defaults.
	assert.Equal(t, "leanuser", cfg.Docker.User)
	assert.Equal(t, 256, cfg.Docker.MemoryLimitMB)
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 30*time.Second, cfg.GetTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetPollInterval())
}
