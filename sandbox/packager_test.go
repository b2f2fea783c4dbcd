package sandbox

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeloop/dataset"
)

// MockRuntime implements ImageRuntime for testing
type MockRuntime struct {
	image       string
	ensureErr   error
	runErr      error
	runResult   ExecutionResult
	onRun       func(inputsDir, outputsDir string)
	ensureCalls []string
	runCalls    []string
}

func (m *MockRuntime) Image() string { return m.image }

func (m *MockRuntime) EnsureImage(_ context.Context, image, _ string) error {
	m.ensureCalls = append(m.ensureCalls, image)
	return m.ensureErr
}

func (m *MockRuntime) Run(_ context.Context, image, inputsDir, outputsDir string) (ExecutionResult, error) {
	m.runCalls = append(m.runCalls, image)
	if m.onRun != nil {
		m.onRun(inputsDir, outputsDir)
	}
	return m.runResult, m.runErr
}

func newTestPackager(t *testing.T, rt ImageRuntime) (*Packager, string) {
	t.Helper()
	workDir := t.TempDir()
	return NewPackager(zaptest.NewLogger(t), rt, &PackagerConfig{WorkDir: workDir, MaxArtifactSizeMB: 1}), workDir
}

func sampleTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.NewTable(
		dataset.Column{Name: "country", Type: dataset.TypeString, Values: []any{"SG", "US", "JP"}},
		dataset.Column{Name: "gdp", Type: dataset.TypeInt, Values: []any{500, 23000, 5100}},
	)
	require.NoError(t, err)
	return tbl
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must not survive execution")
}

func TestStage(t *testing.T) {
	p, workDir := newTestPackager(t, &MockRuntime{})

	code := "print(df.shape, threshold)"
	ws, err := p.Stage(code, map[string]any{
		"df":        sampleTable(t),
		"threshold": 0.5,
		"unused":    []int{1, 2, 3},
	})
	require.NoError(t, err)
	defer func() { _ = ws.Remove() }()

	assert.Equal(t, workDir, filepath.Dir(ws.Root))

	written, err := os.ReadFile(filepath.Join(ws.Inputs, CodeFileName))
	require.NoError(t, err)
	assert.Equal(t, code, string(written))

	prelude, err := os.ReadFile(filepath.Join(ws.Inputs, EntryFileName))
	require.NoError(t, err)
	assert.Equal(t, preludeSource, prelude)

	assert.Equal(t, []string{"df.table.json", "threshold.json"}, ws.Staged)
	_, err = os.Stat(filepath.Join(ws.Vars, "unused.json"))
	assert.True(t, os.IsNotExist(err), "unreferenced variables must not be marshalled")

	info, err := os.Stat(ws.Outputs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStageTableRoundTrip(t *testing.T) {
	p, _ := newTestPackager(t, &MockRuntime{})
	original := sampleTable(t)

	ws, err := p.Stage("df.describe()", map[string]any{"df": original})
	require.NoError(t, err)
	defer func() { _ = ws.Remove() }()

	data, err := os.ReadFile(filepath.Join(ws.Vars, "df"+TableSuffix))
	require.NoError(t, err)

	restored, err := DecodeTable(data)
	require.NoError(t, err)
	assert.Equal(t, original.NumRows(), restored.NumRows())
	assert.Equal(t, original.NumColumns(), restored.NumColumns())
	assert.Equal(t, original.ColumnNames(), restored.ColumnNames())
	assert.Equal(t, dataset.TypeInt, restored.Columns[1].Type)
}

func TestStageUnserializableVariable(t *testing.T) {
	p, workDir := newTestPackager(t, &MockRuntime{})

	_, err := p.Stage("print(ch)", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variable ch is not serializable")
	assertEmptyDir(t, workDir)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		rt := &MockRuntime{image: "runner:1", runResult: ExecutionResult{Stdout: "rows=3\n"}}
		var sawInputs bool
		rt.onRun = func(inputsDir, _ string) {
			_, err := os.Stat(filepath.Join(inputsDir, VarsDirName, "df"+TableSuffix))
			sawInputs = err == nil
		}
		p, workDir := newTestPackager(t, rt)

		result, err := p.Execute(ctx, ExecuteRequest{
			Code:      "print(f'rows={len(df)}')",
			Variables: map[string]any{"df": sampleTable(t)},
		})
		require.NoError(t, err)
		assert.Equal(t, "rows=3\n", result.Stdout)
		assert.True(t, result.Success())
		assert.True(t, sawInputs)
		assert.Equal(t, []string{"runner:1"}, rt.ensureCalls)
		assert.Equal(t, []string{"runner:1"}, rt.runCalls)
		assert.Nil(t, result.ArtifactsTar)
		assertEmptyDir(t, workDir)
	})

	t.Run("ImageOverride", func(t *testing.T) {
		rt := &MockRuntime{image: "runner:1"}
		p, _ := newTestPackager(t, rt)

		_, err := p.Execute(ctx, ExecuteRequest{Code: "pass", Image: "runner:prebuilt"})
		require.NoError(t, err)
		assert.Equal(t, []string{"runner:prebuilt"}, rt.ensureCalls)
		assert.Equal(t, []string{"runner:prebuilt"}, rt.runCalls)
	})

	t.Run("FailedRunIsNotAnError", func(t *testing.T) {
		rt := &MockRuntime{runResult: ExecutionResult{ExitCode: 1, Stderr: "ZeroDivisionError"}}
		p, workDir := newTestPackager(t, rt)

		result, err := p.Execute(ctx, ExecuteRequest{Code: "1/0"})
		require.NoError(t, err)
		assert.False(t, result.Success())
		assertEmptyDir(t, workDir)
	})

	t.Run("BuildFailureRemovesWorkspace", func(t *testing.T) {
		rt := &MockRuntime{ensureErr: &BuildFailure{Image: "runner:1", ExitCode: 2}}
		p, workDir := newTestPackager(t, rt)

		_, err := p.Execute(ctx, ExecuteRequest{Code: "pass"})
		var buildErr *BuildFailure
		require.True(t, errors.As(err, &buildErr))
		assert.Empty(t, rt.runCalls)
		assertEmptyDir(t, workDir)
	})

	t.Run("TransportFailureRemovesWorkspace", func(t *testing.T) {
		rt := &MockRuntime{runErr: &TransportFailure{Op: "run", Err: errors.New("daemon down")}}
		rt.onRun = func(_, outputsDir string) {
			_ = os.WriteFile(filepath.Join(outputsDir, "partial.txt"), []byte("x"), 0o600)
		}
		p, workDir := newTestPackager(t, rt)

		_, err := p.Execute(ctx, ExecuteRequest{Code: "pass"})
		var transportErr *TransportFailure
		require.True(t, errors.As(err, &transportErr))
		assertEmptyDir(t, workDir)
	})

	t.Run("CollectArtifacts", func(t *testing.T) {
		rt := &MockRuntime{}
		rt.onRun = func(_, outputsDir string) {
			require.NoError(t, os.MkdirAll(filepath.Join(outputsDir, "plots"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(outputsDir, "plots", "heatmap.png"), []byte("png"), 0o600))
		}
		p, workDir := newTestPackager(t, rt)

		result, err := p.Execute(ctx, ExecuteRequest{Code: "pass", CollectArtifacts: true})
		require.NoError(t, err)
		require.NotEmpty(t, result.ArtifactsTar)
		assertEmptyDir(t, workDir)

		dest := t.TempDir()
		require.NoError(t, ExtractTarToDir(&RealFileSystem{}, result.ArtifactsTar, dest))
		content, err := os.ReadFile(filepath.Join(dest, "plots", "heatmap.png"))
		require.NoError(t, err)
		assert.Equal(t, "png", string(content))
	})

	t.Run("ArtifactsOverLimit", func(t *testing.T) {
		rt := &MockRuntime{}
		rt.onRun = func(_, outputsDir string) {
			noise := make([]byte, 2*MaxArtifactSizeMul)
			_, err := rand.Read(noise)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(outputsDir, "big.bin"), noise, 0o600))
		}
		p, workDir := newTestPackager(t, rt)

		_, err := p.Execute(ctx, ExecuteRequest{Code: "pass", CollectArtifacts: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "artifacts size exceeds limit")
		assertEmptyDir(t, workDir)
	})
}
