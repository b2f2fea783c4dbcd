package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codeloop/metrics"
)

// Supported container engines
const (
	EngineDocker = "docker"
	EnginePodman = "podman"
)

// DefaultTimeoutSec is the run ceiling used when none is configured.
const DefaultTimeoutSec = 120

// RuntimeConfig holds configuration for the container runtime
type RuntimeConfig struct {
	Engine string
	Image  string
	// Dockerfile is the build file used when EnsureImage gets none.
	Dockerfile     string
	WorkDir        string
	TimeoutSec     int
	MemoryMB       int
	CPUs           float64
	NetworkEnabled bool
	// User is passed to --user. Empty means the host uid:gid, so the
	// container can write the host-owned outputs directory.
	User string
}

// Runtime drives a container engine CLI.
type Runtime struct {
	logger    *zap.Logger
	config    *RuntimeConfig
	cmdRunner CommandRunner
	fs        FileSystem

	// buildMu serializes inspect-then-build so concurrent requests do not
	// build the same image twice.
	buildMu sync.Mutex
}

// RuntimeOption defines a functional option for Runtime
type RuntimeOption func(*Runtime)

// WithRuntimeCommandRunner sets the CommandRunner for Runtime
func WithRuntimeCommandRunner(cmdRunner CommandRunner) RuntimeOption {
	return func(r *Runtime) {
		r.cmdRunner = cmdRunner
	}
}

// WithRuntimeFileSystem sets the FileSystem for Runtime
func WithRuntimeFileSystem(fs FileSystem) RuntimeOption {
	return func(r *Runtime) {
		r.fs = fs
	}
}

// NewRuntime creates a new Runtime with default implementations and optional interfaces
func NewRuntime(logger *zap.Logger, config *RuntimeConfig, opts ...RuntimeOption) *Runtime {
	if config.Engine == "" {
		config.Engine = EngineDocker
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = DefaultTimeoutSec
	}

	r := &Runtime{
		logger:    logger,
		config:    config,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Image returns the configured runner image.
func (r *Runtime) Image() string {
	return r.config.Image
}

// EnsureImage makes sure image exists locally, building it when it does
// not. An empty image means the configured one. The build file is resolved
// as: dockerfile argument, then the configured Dockerfile, then the
// embedded default definition.
func (r *Runtime) EnsureImage(ctx context.Context, image, dockerfile string) error {
	if image == "" {
		image = r.config.Image
	}

	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	exists, err := r.imageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		r.logger.Debug("runner image present", zap.String("image", image))
		return nil
	}

	if dockerfile == "" {
		dockerfile = r.config.Dockerfile
	}

	r.logger.Info("building runner image",
		zap.String("image", image),
		zap.String("engine", r.config.Engine),
		zap.String("dockerfile", dockerfile))

	if dockerfile != "" {
		err = r.build(ctx, image, []string{"-f", dockerfile, filepath.Dir(dockerfile)}, "")
	} else {
		err = r.buildEmbedded(ctx, image)
	}

	if err != nil {
		metrics.ImageBuildsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.ImageBuildsTotal.WithLabelValues("ok").Inc()
	r.logger.Info("runner image built", zap.String("image", image))
	return nil
}

func (r *Runtime) imageExists(ctx context.Context, image string) (bool, error) {
	args := []string{r.config.Engine, "image", "inspect", image}
	_, stderr, exitCode, err := r.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return false, &TransportFailure{Op: "inspect", Err: err}
	}
	if exitCode == 0 {
		return true, nil
	}
	if isDaemonError(stderr) {
		return false, &TransportFailure{Op: "inspect", Err: errors.New(stderr)}
	}
	return false, nil
}

func (r *Runtime) buildEmbedded(ctx context.Context, image string) error {
	contextDir, err := r.fs.MkdirTemp(r.config.WorkDir, "codeloop-build-*")
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer func() {
		if rmErr := r.fs.RemoveAll(contextDir); rmErr != nil {
			r.logger.Error("failed to remove build context", zap.String("path", contextDir), zap.Error(rmErr))
		}
	}()

	if err := r.fs.WriteFile(filepath.Join(contextDir, "Dockerfile"), DefaultDockerfile(), FilePermission); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	return r.build(ctx, image, []string{contextDir}, contextDir)
}

func (r *Runtime) build(ctx context.Context, image string, tail []string, contextDir string) error {
	args := append([]string{r.config.Engine, "build", "-t", image}, tail...)

	stdout, stderr, exitCode, err := r.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return &TransportFailure{Op: "build", Err: err}
	}
	if exitCode == 0 {
		return nil
	}
	if isDaemonError(stderr) {
		return &TransportFailure{Op: "build", Err: errors.New(stderr)}
	}

	return &BuildFailure{
		Image:    image,
		Command:  args,
		Context:  contextDir,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

// Run launches one disposable container with inputsDir mounted read-only at
// /inputs and outputsDir mounted read-write at /outputs, and runs the
// bootstrap entry point. A nonzero exit status is a result, not an error;
// errors are returned only when the engine cannot be reached or ctx is done.
func (r *Runtime) Run(ctx context.Context, image, inputsDir, outputsDir string) (ExecutionResult, error) {
	if image == "" {
		image = r.config.Image
	}

	inputsAbs, err := filepath.Abs(inputsDir)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to resolve inputs dir: %w", err)
	}
	outputsAbs, err := filepath.Abs(outputsDir)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to resolve outputs dir: %w", err)
	}

	containerName := "codeloop-run-" + uuid.NewString()
	args := r.runArgs(containerName, image, inputsAbs, outputsAbs)

	timeout := time.Duration(r.config.TimeoutSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Debug("starting sandbox container",
		zap.String("container", containerName),
		zap.String("image", image),
		zap.Duration("timeout", timeout))

	stdout, stderr, exitCode, err := r.cmdRunner.RunCommand(runCtx, args)

	if ctx.Err() != nil {
		r.kill(containerName)
		return ExecutionResult{}, fmt.Errorf("sandbox run cancelled: %w", ctx.Err())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.kill(containerName)
		r.logger.Warn("sandbox run timed out", zap.String("container", containerName), zap.Duration("timeout", timeout))
		return ExecutionResult{
			Stdout:   stdout,
			Stderr:   stderr + fmt.Sprintf("\nExecution timed out after %s", timeout),
			ExitCode: TimeoutExitCode,
		}, nil
	}

	if err != nil {
		return ExecutionResult{}, &TransportFailure{Op: "run", Err: err}
	}

	if exitCode != 0 && isDaemonError(stderr) {
		return ExecutionResult{}, &TransportFailure{Op: "run", Err: errors.New(stderr)}
	}

	// Some engine errors are printed only on stdout.
	if exitCode != 0 && stderr == "" {
		stderr = stdout
	}

	return ExecutionResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}, nil
}

func (r *Runtime) runArgs(containerName, image, inputsDir, outputsDir string) []string {
	network := "none"
	if r.config.NetworkEnabled {
		network = "bridge"
	}

	args := []string{
		r.config.Engine, "run",
		"--rm",
		"--name", containerName,
		"--network", network,
		"--read-only",
		"--tmpfs", "/tmp",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"--pids-limit", "256",
	}

	if r.config.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", r.config.MemoryMB))
	}
	if r.config.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(r.config.CPUs, 'f', -1, 64))
	}
	if user := r.user(); user != "" {
		args = append(args, "--user", user)
	}

	return append(args,
		"-v", inputsDir+":"+InputsMount+":ro",
		"-v", outputsDir+":"+OutputsMount+":rw",
		"--workdir", OutputsMount,
		image,
		"python", "-u", InputsMount+"/"+EntryFileName,
	)
}

func (r *Runtime) user() string {
	if r.config.User != "" {
		return r.config.User
	}
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}

// kill removes a container left behind by a timeout or cancellation. The
// caller's context is already done, so a fresh one bounds the cleanup.
func (r *Runtime) kill(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, stderr, exitCode, err := r.cmdRunner.RunCommand(ctx, []string{r.config.Engine, "rm", "-f", containerName})
	if err != nil || exitCode != 0 {
		r.logger.Warn("failed to remove container",
			zap.String("container", containerName),
			zap.String("stderr", stderr),
			zap.Error(err))
	}
}
