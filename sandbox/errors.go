package sandbox

import (
	"fmt"
	"strings"
)

// BuildFailure reports that the runner image could not be built. Every
// later run against the same image would fail the same way.
type BuildFailure struct {
	Image    string
	Command  []string
	Context  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *BuildFailure) Error() string {
	lines := []string{
		fmt.Sprintf("failed to build sandbox image %s", e.Image),
		fmt.Sprintf("command: %s", strings.Join(e.Command, " ")),
	}
	if e.Context != "" {
		lines = append(lines, fmt.Sprintf("context: %s", e.Context))
	}
	lines = append(lines,
		fmt.Sprintf("exit code: %d", e.ExitCode),
		"stdout:\n"+strings.TrimSpace(e.Stdout),
		"stderr:\n"+strings.TrimSpace(e.Stderr),
	)
	return strings.Join(lines, "\n")
}

// TransportFailure reports that the container engine itself could not be
// reached. It is never the generated code's fault.
type TransportFailure struct {
	Op  string
	Err error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("container engine unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// daemonErrorMarkers are substrings engine CLIs print when the daemon or
// service socket is not reachable.
var daemonErrorMarkers = []string{
	"Cannot connect to the Docker daemon",
	"Is the docker daemon running",
	"error during connect",
	"Cannot connect to Podman",
	"unable to connect to Podman socket",
}

func isDaemonError(output string) bool {
	for _, marker := range daemonErrorMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}
