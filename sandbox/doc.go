// Package sandbox runs untrusted, generated code in disposable containers.
//
// The package has two layers. The Runtime talks to a container engine CLI
// (docker or podman): it makes sure the runner image exists, building it on
// demand, and launches one network-less, auto-removed container per run with
// the inputs directory mounted read-only at /inputs and the outputs directory
// mounted read-write at /outputs. The Packager stages a request for the
// Runtime: it creates a uniquely named workspace, writes the code and the
// bootstrap entry point, serializes the variables the code refers to, runs
// it, and removes the workspace on every exit path.
//
// Usage:
//
//	rt := sandbox.NewRuntime(logger, &sandbox.RuntimeConfig{Engine: "docker", Image: "codeloop-runner:py313"})
//	p := sandbox.NewPackager(logger, rt, &sandbox.PackagerConfig{})
//	result, err := p.Execute(ctx, sandbox.ExecuteRequest{
//	    Code:      "print(df.shape)",
//	    Variables: map[string]any{"df": table},
//	})
package sandbox
