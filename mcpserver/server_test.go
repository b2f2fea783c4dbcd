package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeloop/config"
	"github.com/isdmx/codeloop/dataset"
	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/workflow"
)

// MockExecutor implements sandbox.Executor for testing
type MockExecutor struct {
	result  sandbox.ExecutionResult
	err     error
	request sandbox.ExecuteRequest
}

func (m *MockExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) (sandbox.ExecutionResult, error) {
	m.request = req
	return m.result, m.err
}

type MockAnalyzer struct {
	outcome *workflow.Outcome
	err     error
	request oracle.CodeGenerationRequest
}

func (m *MockAnalyzer) Run(_ context.Context, req oracle.CodeGenerationRequest) (*workflow.Outcome, error) {
	m.request = req
	return m.outcome, m.err
}

type MockImages struct {
	err        error
	dockerfile string
}

func (m *MockImages) Image() string {
	return "codeloop-runner:test"
}

func (m *MockImages) EnsureImage(_ context.Context, _ string, dockerfile string) error {
	m.dockerfile = dockerfile
	return m.err
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Sandbox: config.SandboxConfig{Engine: "docker", TimeoutSec: 30, MemoryMB: 512, MaxArtifactSizeMB: 20},
		Logging: config.LoggingConfig{Mode: "production", Level: "info"},
	}
}

type fixture struct {
	server   *MCPServer
	executor *MockExecutor
	analyzer *MockAnalyzer
	images   *MockImages
	budget   *oracle.MemoryBudget
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		executor: &MockExecutor{},
		analyzer: &MockAnalyzer{},
		images:   &MockImages{},
		budget:   oracle.NewMemoryBudget(1000, 1_000_000),
	}
	s, err := New(testConfig(), zaptest.NewLogger(t), f.executor, f.analyzer, f.images, f.budget)
	require.NoError(t, err)
	require.NotNil(t, s.GetMCPServer())
	f.server = s
	return f
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestExecuteCode(t *testing.T) {
	f := newFixture(t)
	f.executor.result = sandbox.ExecutionResult{Stdout: "6\n", ArtifactsTar: []byte{1, 2, 3}}

	result, err := f.server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"code":              "print(df['x'].sum())",
		"variables":         map[string]any{"limit": float64(10)},
		"tables":            map[string]any{"df": map[string]any{"columns": []any{map[string]any{"name": "x", "type": "int64", "values": []any{1, 2, 3}}}}},
		"collect_artifacts": true,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resp executeResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.Equal(t, "6\n", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), resp.ArtifactsTar)

	req := f.executor.request
	assert.True(t, req.CollectArtifacts)
	assert.Equal(t, float64(10), req.Variables["limit"])
	tbl, ok := req.Variables["df"].(*dataset.Table)
	require.True(t, ok)
	assert.Equal(t, 3, tbl.NumRows())
}

func TestExecuteCodeMissingCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{}))
	assert.Error(t, err)
}

func TestExecuteCodeInvalidTable(t *testing.T) {
	f := newFixture(t)
	result, err := f.server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"code":   "print(1)",
		"tables": map[string]any{"df": map[string]any{"columns": []any{map[string]any{"name": "x", "type": "complex", "values": []any{1}}}}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "table df")
}

func TestExecuteCodeInfrastructureError(t *testing.T) {
	f := newFixture(t)
	f.executor.err = &sandbox.TransportFailure{Op: "run", Err: errors.New("daemon down")}

	result, err := f.server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{"code": "print(1)"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Execution failed")
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	f.analyzer.outcome = &workflow.Outcome{RunID: "r1", State: workflow.StateSucceeded, Attempts: 1, Code: "print('HELLO')"}

	result, err := f.server.handleAnalyze(context.Background(), callRequest("analyze", map[string]any{
		"request":   "print exactly HELLO",
		"variables": map[string]any{"n": "x"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var outcome workflow.Outcome
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &outcome))
	assert.Equal(t, workflow.StateSucceeded, outcome.State)
	assert.Equal(t, "print exactly HELLO", f.analyzer.request.RequestText)
	assert.Equal(t, "x", f.analyzer.request.Variables["n"])
}

func TestAnalyzeAborted(t *testing.T) {
	f := newFixture(t)
	f.analyzer.outcome = &workflow.Outcome{RunID: "r2", State: workflow.StateGenerating}
	f.analyzer.err = &oracle.Failure{Oracle: oracle.NameGeneration, Err: oracle.ErrUsageLimitExceeded}

	result, err := f.server.handleAnalyze(context.Background(), callRequest("analyze", map[string]any{"request": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "usage limit exceeded")
	assert.Contains(t, text, `"run_id":"r2"`)
}

func TestEnsureImage(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleEnsureImage(context.Background(), callRequest("ensure_image", map[string]any{"dockerfile": "/tmp/Dockerfile"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "image codeloop-runner:test is ready", resultText(t, result))
	assert.Equal(t, "/tmp/Dockerfile", f.images.dockerfile)

	f.images.err = &sandbox.BuildFailure{Image: "codeloop-runner:test", ExitCode: 1}
	result, err = f.server.handleEnsureImage(context.Background(), callRequest("ensure_image", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUsage(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.budget.TryConsume(2, 300))

	result, err := f.server.handleUsage(context.Background(), callRequest("usage", nil))
	require.NoError(t, err)

	var usage oracle.Usage
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &usage))
	assert.Equal(t, int64(2), usage.Calls)
	assert.Equal(t, int64(300), usage.Tokens)
	assert.Equal(t, int64(1000), usage.MaxCalls)
}

func TestVariablesFromConflict(t *testing.T) {
	_, err := variablesFrom(map[string]any{
		"variables": map[string]any{"df": 1},
		"tables":    map[string]any{"df": map[string]any{"columns": []any{}}},
	})
	assert.Error(t, err)

	_, err = variablesFrom(map[string]any{"variables": "nope"})
	assert.Error(t, err)
}
