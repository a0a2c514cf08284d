package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/misanthropic-ai/lean-docker-mcp/config"
)

// NewRuntime creates an appropriate container runtime based on the configuration
func NewRuntime(logger *zap.Logger, cfg *config.Config) (Runtime, error) {
	switch cfg.Server.Backend {
	case "docker":
		return NewDockerRuntime(logger, cfg)
	case "local":
		if !cfg.Server.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled; set server.enable_local_backend to use it")
		}
		return NewLocalRuntime(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Server.Backend)
	}
}
