package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/isdmx/codeloop/oracle"
)

// FileSink writes succeeding code into a directory, one file per run, headed
// by the request it answers.
type FileSink struct {
	Dir string
	now func() time.Time
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir, now: time.Now}
}

// Save implements Sink.
func (s *FileSink) Save(_ context.Context, runID string, req oracle.CodeGenerationRequest, code string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.Dir, err)
	}

	name := fmt.Sprintf("%s-%s.py", s.now().UTC().Format("20060102T150405"), shortID(runID))
	content := "# User request: " + strings.ReplaceAll(req.RequestText, "\n", " ") + "\n\n" + code
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
