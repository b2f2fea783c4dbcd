package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codeloop/config"
)

// NewRuntimeFromConfig creates a Runtime for the configured engine
func NewRuntimeFromConfig(logger *zap.Logger, cfg *config.Config) (*Runtime, error) {
	switch cfg.Sandbox.Engine {
	case EngineDocker, EnginePodman:
	default:
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Sandbox.Engine)
	}

	return NewRuntime(logger, &RuntimeConfig{
		Engine:         cfg.Sandbox.Engine,
		Image:          cfg.Sandbox.Image,
		Dockerfile:     cfg.Sandbox.Dockerfile,
		WorkDir:        cfg.Sandbox.WorkDir,
		TimeoutSec:     cfg.Sandbox.TimeoutSec,
		MemoryMB:       cfg.Sandbox.MemoryMB,
		CPUs:           cfg.Sandbox.CPUs,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		User:           cfg.Sandbox.User,
	}), nil
}

// NewPackagerFromConfig creates a Packager on top of runtime
func NewPackagerFromConfig(logger *zap.Logger, cfg *config.Config, runtime *Runtime) *Packager {
	return NewPackager(logger, runtime, &PackagerConfig{
		WorkDir:           cfg.Sandbox.WorkDir,
		MaxArtifactSizeMB: cfg.Sandbox.MaxArtifactSizeMB,
	})
}
