package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Lean    LeanConfig    `mapstructure:"lean"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds protocol server configuration
type ServerConfig struct {
	Backend            string `mapstructure:"backend"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
}

// DockerConfig holds container runtime configuration
type DockerConfig struct {
	Image               string  `mapstructure:"image"`
	WorkingDir          string  `mapstructure:"working_dir"`
	User                string  `mapstructure:"user"`
	ContainerNamePrefix string  `mapstructure:"container_name_prefix"`
	MemoryLimitMB       int     `mapstructure:"memory_limit_mb"`
	CPULimit            float64 `mapstructure:"cpu_limit"`
	TimeoutSec          int     `mapstructure:"timeout_sec"`
	PollIntervalMS      int     `mapstructure:"poll_interval_ms"`
	StopGraceSec        int     `mapstructure:"stop_grace_sec"`
	NetworkDisabled     bool    `mapstructure:"network_disabled"`
	ReadOnly            bool    `mapstructure:"read_only"`
}

// LeanConfig holds the code validation policy
type LeanConfig struct {
	AllowedImports     []string `mapstructure:"allowed_imports"`
	BlockedImports     []string `mapstructure:"blocked_imports"`
	DisallowedPatterns []string `mapstructure:"disallowed_patterns"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.backend", "docker")
	viper.SetDefault("server.enable_local_backend", false)

	viper.SetDefault("docker.image", "lean-docker-mcp:latest")
	viper.SetDefault("docker.working_dir", "/home/leanuser/project")
	viper.SetDefault("docker.user", "leanuser")
	viper.SetDefault("docker.container_name_prefix", "lean-docker-mcp")
	viper.SetDefault("docker.memory_limit_mb", 256)
	viper.SetDefault("docker.cpu_limit", 0.5)
	viper.SetDefault("docker.timeout_sec", 30)
	viper.SetDefault("docker.poll_interval_ms", 100)
	viper.SetDefault("docker.stop_grace_sec", 1)
	viper.SetDefault("docker.network_disabled", true)
	viper.SetDefault("docker.read_only", false)

	viper.SetDefault("lean.allowed_imports", []string{"Lean", "Init", "Std", "Mathlib"})
	viper.SetDefault("lean.blocked_imports", []string{"System.IO.Process", "System.FilePath"})
	viper.SetDefault("lean.disallowed_patterns", []string{
		`IO\.FS\.[A-Za-z][A-Za-z.]*`,
		`IO\.Process[A-Za-z.]*`,
		`IO\.getEnv`,
	})

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	supportedBackends := map[string]bool{
		"docker": true,
		"local":  c.Server.EnableLocalBackend, // local only enabled if specifically allowed
	}
	if !supportedBackends[c.Server.Backend] {
		return fmt.Errorf("unsupported server.backend: %s", c.Server.Backend)
	}

	if c.Docker.Image == "" {
		return fmt.Errorf("docker.image must not be empty")
	}

	if c.Docker.TimeoutSec <= 0 {
		return fmt.Errorf("docker.timeout_sec must be positive, got: %d", c.Docker.TimeoutSec)
	}

	if c.Docker.MemoryLimitMB <= 0 {
		return fmt.Errorf("docker.memory_limit_mb must be positive, got: %d", c.Docker.MemoryLimitMB)
	}

	if c.Docker.CPULimit <= 0 {
		return fmt.Errorf("docker.cpu_limit must be positive, got: %g", c.Docker.CPULimit)
	}

	if c.Docker.PollIntervalMS <= 0 {
		return fmt.Errorf("docker.poll_interval_ms must be positive, got: %d", c.Docker.PollIntervalMS)
	}

	if c.Docker.StopGraceSec < 0 {
		return fmt.Errorf("docker.stop_grace_sec must not be negative, got: %d", c.Docker.StopGraceSec)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Docker.TimeoutSec) * time.Second
}

// GetPollInterval returns the completion poll interval as a duration
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Docker.PollIntervalMS) * time.Millisecond
}
