package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ExecutionResult is the observable outcome of one sandboxed run.
type ExecutionResult struct {
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ExitCode     int    `json:"exit_code"`
	ArtifactsTar []byte `json:"-"` // tar.gz of /outputs, only when requested
}

// Success reports whether the run exited with status zero.
func (r ExecutionResult) Success() bool {
	return r.ExitCode == 0
}

// ExecuteRequest is one piece of code plus the caller's variables.
type ExecuteRequest struct {
	Code      string
	Variables map[string]any
	// Image overrides the runtime's configured image when set.
	Image            string
	CollectArtifacts bool
}

// Executor runs code in the sandbox.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecutionResult, error)
}

// CommandRunner defines an interface for executing system commands.
// A nonzero exit status is reported through exitCode, not err; err is
// reserved for commands that could not be run at all.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using os/exec
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // arguments are built by the runtime

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return stdoutBuf.String(), stderrBuf.String(), exitError.ExitCode(), nil
		}
		return stdoutBuf.String(), stderrBuf.String(), 0, err
	}

	return stdoutBuf.String(), stderrBuf.String(), 0, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using the os package
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Mount points inside the container
const (
	InputsMount  = "/inputs"
	OutputsMount = "/outputs"
)

// Workspace layout
const (
	InputsDirName  = "inputs"
	OutputsDirName = "outputs"
	VarsDirName    = "vars"
	CodeFileName   = "code.py"
	EntryFileName  = "prelude.py"
)

// File permission and size constants
const (
	DirPermission      = 0o755
	FilePermission     = 0o644
	MaxArtifactSizeMul = 1024 * 1024 // 1 MB multiplier
)

// TimeoutExitCode is reported when a run is killed at the timeout ceiling.
const TimeoutExitCode = 124
