package sandbox

import (
	"fmt"
	"path/filepath"
)

// Workspace is the uniquely named directory tree staged for one run.
type Workspace struct {
	Root    string
	Inputs  string
	Outputs string
	Vars    string
	// Staged lists the variable files written, in name order.
	Staged []string

	fs FileSystem
}

func newWorkspace(fs FileSystem, parent string) (*Workspace, error) {
	root, err := fs.MkdirTemp(parent, "codeloop-exec-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	ws := &Workspace{
		Root:    root,
		Inputs:  filepath.Join(root, InputsDirName),
		Outputs: filepath.Join(root, OutputsDirName),
		fs:      fs,
	}
	ws.Vars = filepath.Join(ws.Inputs, VarsDirName)

	for _, dir := range []string{ws.Inputs, ws.Outputs, ws.Vars} {
		if err := fs.MkdirAll(dir, DirPermission); err != nil {
			_ = ws.Remove()
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Remove deletes the workspace and everything written into it.
func (w *Workspace) Remove() error {
	return w.fs.RemoveAll(w.Root)
}
