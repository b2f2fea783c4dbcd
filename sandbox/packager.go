package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codeloop/metrics"
	"github.com/isdmx/codeloop/relevance"
)

// ImageRuntime is the part of Runtime the Packager depends on.
type ImageRuntime interface {
	Image() string
	EnsureImage(ctx context.Context, image, dockerfile string) error
	Run(ctx context.Context, image, inputsDir, outputsDir string) (ExecutionResult, error)
}

// PackagerConfig holds configuration for the Packager
type PackagerConfig struct {
	// WorkDir is the parent of every workspace. Empty means the OS temp dir.
	WorkDir           string
	MaxArtifactSizeMB int
}

// Packager stages requests for the runtime and implements Executor.
type Packager struct {
	logger   *zap.Logger
	runtime  ImageRuntime
	config   *PackagerConfig
	fs       FileSystem
	selector relevance.Selector
}

var _ Executor = (*Packager)(nil)

// PackagerOption defines a functional option for Packager
type PackagerOption func(*Packager)

// WithPackagerFileSystem sets the FileSystem for Packager
func WithPackagerFileSystem(fs FileSystem) PackagerOption {
	return func(p *Packager) {
		p.fs = fs
	}
}

// WithSelector replaces the variable relevance selector
func WithSelector(selector relevance.Selector) PackagerOption {
	return func(p *Packager) {
		p.selector = selector
	}
}

// NewPackager creates a new Packager
func NewPackager(logger *zap.Logger, runtime ImageRuntime, config *PackagerConfig, opts ...PackagerOption) *Packager {
	p := &Packager{
		logger:   logger,
		runtime:  runtime,
		config:   config,
		fs:       &RealFileSystem{},
		selector: relevance.TokenSelector{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Stage creates a workspace holding the code, the bootstrap entry point and
// the variables the code refers to. On error nothing is left on disk.
func (p *Packager) Stage(code string, vars map[string]any) (*Workspace, error) {
	ws, err := newWorkspace(p.fs, p.config.WorkDir)
	if err != nil {
		return nil, err
	}

	if err := p.populate(ws, code, vars); err != nil {
		if rmErr := ws.Remove(); rmErr != nil {
			p.logger.Error("failed to remove workspace", zap.String("path", ws.Root), zap.Error(rmErr))
		}
		return nil, err
	}
	return ws, nil
}

func (p *Packager) populate(ws *Workspace, code string, vars map[string]any) error {
	if err := p.fs.WriteFile(filepath.Join(ws.Inputs, CodeFileName), []byte(code), FilePermission); err != nil {
		return fmt.Errorf("failed to write code: %w", err)
	}
	if err := p.fs.WriteFile(filepath.Join(ws.Inputs, EntryFileName), preludeSource, FilePermission); err != nil {
		return fmt.Errorf("failed to write entry point: %w", err)
	}

	selected := relevance.Select(p.selector, code, vars)
	names := make([]string, 0, len(selected))
	for name := range selected {
		if !relevance.IsIdentifier(name) {
			p.logger.Warn("skipping variable with invalid name", zap.String("name", name))
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fileName, data, err := EncodeVariable(name, selected[name])
		if err != nil {
			return err
		}
		if err := p.fs.WriteFile(filepath.Join(ws.Vars, fileName), data, FilePermission); err != nil {
			return fmt.Errorf("failed to write variable %s: %w", name, err)
		}
		ws.Staged = append(ws.Staged, fileName)
	}

	p.logger.Debug("workspace staged",
		zap.String("path", ws.Root),
		zap.Int("variables", len(vars)),
		zap.Strings("staged", ws.Staged))
	return nil
}

// Execute stages the request, makes sure the image exists, runs it and
// removes the workspace whatever happens.
func (p *Packager) Execute(ctx context.Context, req ExecuteRequest) (result ExecutionResult, err error) {
	start := time.Now()
	defer func() {
		metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
		metrics.ExecutionsTotal.WithLabelValues(outcome(result, err)).Inc()
	}()

	image := req.Image
	if image == "" {
		image = p.runtime.Image()
	}

	ws, err := p.Stage(req.Code, req.Variables)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			p.logger.Error("failed to remove workspace", zap.String("path", ws.Root), zap.Error(rmErr))
		}
	}()

	if err := p.runtime.EnsureImage(ctx, image, ""); err != nil {
		return ExecutionResult{}, err
	}

	result, err = p.runtime.Run(ctx, image, ws.Inputs, ws.Outputs)
	if err != nil {
		return ExecutionResult{}, err
	}

	p.logger.Info("sandbox execution completed",
		zap.String("image", image),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	if req.CollectArtifacts {
		artifacts, err := CreateTarFromDir(ws.Outputs)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("failed to create artifacts tar: %w", err)
		}
		if limit := p.config.MaxArtifactSizeMB * MaxArtifactSizeMul; limit > 0 && len(artifacts) > limit {
			return ExecutionResult{}, fmt.Errorf("artifacts size exceeds limit: %d bytes > %d bytes", len(artifacts), limit)
		}
		result.ArtifactsTar = artifacts
	}

	return result, nil
}

func outcome(result ExecutionResult, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case result.ExitCode == TimeoutExitCode:
		return metrics.OutcomeTimeout
	case result.Success():
		return metrics.OutcomeSuccess
	default:
		return metrics.OutcomeFailure
	}
}
