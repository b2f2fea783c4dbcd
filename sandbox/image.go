package sandbox

import (
	_ "embed"
)

//go:embed Dockerfile.runner
var defaultDockerfile []byte

// DefaultDockerfile returns the embedded runner image definition. It holds
// only the data-processing and plotting toolchain generated code may use.
func DefaultDockerfile() []byte {
	out := make([]byte, len(defaultDockerfile))
	copy(out, defaultDockerfile)
	return out
}
