package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codeloop/config"
	"github.com/isdmx/codeloop/dataset"
	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/workflow"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Analyzer runs the retry loop for one request. *workflow.Orchestrator
// implements it.
type Analyzer interface {
	Run(ctx context.Context, req oracle.CodeGenerationRequest) (*workflow.Outcome, error)
}

// ImageEnsurer builds the runner image on demand. *sandbox.Runtime implements
// it.
type ImageEnsurer interface {
	Image() string
	EnsureImage(ctx context.Context, image, dockerfile string) error
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.Executor
	analyzer  Analyzer
	images    ImageEnsurer
	budget    oracle.Budget
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, analyzer Analyzer, images ImageEnsurer, budget oracle.Budget) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		analyzer: analyzer,
		images:   images,
		budget:   budget,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.metrics_port", cfg.Server.MetricsPort),
		zap.String("sandbox.engine", cfg.Sandbox.Engine),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Int("sandbox.max_artifact_size_mb", cfg.Sandbox.MaxArtifactSizeMB),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.Int("workflow.max_attempts", cfg.Workflow.MaxAttempts),
		zap.String("oracle.model", cfg.Oracle.Model),
		zap.String("budget.backend", cfg.Budget.Backend),
	)

	s.mcpServer = server.NewMCPServer("codeloop", Version, server.WithToolCapabilities(false))

	s.registerExecuteCodeTool()
	s.registerAnalyzeTool()
	s.registerEnsureImageTool()
	s.registerUsageTool()

	return s, nil
}

var dataProperties = map[string]any{
	"variables": map[string]any{
		"type":        "object",
		"description": "Plain JSON values by variable name, available to the code as globals",
	},
	"tables": map[string]any{
		"type":        "object",
		"description": `Tables by variable name, each {"columns":[{"name","type","values"}]}; types are int64, float64, bool, string, datetime. Loaded as pandas DataFrames`,
	},
}

func withData(properties map[string]any) map[string]any {
	for k, v := range dataProperties {
		properties[k] = v
	}
	return properties
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute Python code in a network-less sandbox with the given variables",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withData(map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code",
				},
				"collect_artifacts": map[string]any{
					"type":        "boolean",
					"description": "Return files written to the working directory as a base64 tar.gz",
				},
			}),
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerAnalyzeTool() {
	tool := mcp.Tool{
		Name:        "analyze",
		Description: "Generate, run and iteratively correct Python code that answers a natural-language request",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withData(map[string]any{
				"request": map[string]any{
					"type":        "string",
					"description": "What to compute",
				},
			}),
			Required: []string{"request"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleAnalyze)
}

func (s *MCPServer) registerEnsureImageTool() {
	tool := mcp.Tool{
		Name:        "ensure_image",
		Description: "Build the runner image if it does not exist",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"dockerfile": map[string]any{
					"type":        "string",
					"description": "Path to a Dockerfile on the server host (optional)",
				},
			},
		},
	}

	s.mcpServer.AddTool(tool, s.handleEnsureImage)
}

func (s *MCPServer) registerUsageTool() {
	tool := mcp.Tool{
		Name:        "usage",
		Description: "Report oracle calls and tokens consumed against the configured ceilings",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleUsage)
}

type executeResponse struct {
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ExitCode     int    `json:"exit_code"`
	ArtifactsTar string `json:"artifacts_tar,omitempty"`
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	vars, err := variablesFrom(request.GetArguments())
	if err != nil {
		return errorResult(err.Error()), nil
	}
	collect := request.GetBool("collect_artifacts", false)

	s.logger.Info("executing code in sandbox",
		zap.Int("variables", len(vars)),
		zap.Bool("collect_artifacts", collect))

	result, err := s.executor.Execute(ctx, sandbox.ExecuteRequest{
		Code:             code,
		Variables:        vars,
		CollectArtifacts: collect,
	})
	if err != nil {
		s.logger.Error("sandbox execution failed",
			zap.Error(err),
			zap.Bool("infrastructural", workflow.IsInfrastructural(err)))
		return errorResult(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	s.logger.Info("code execution completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	resp := executeResponse{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}
	if len(result.ArtifactsTar) > 0 {
		resp.ArtifactsTar = base64.StdEncoding.EncodeToString(result.ArtifactsTar)
	}
	return jsonResult(resp)
}

func (s *MCPServer) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("request")
	if err != nil {
		return nil, fmt.Errorf("request parameter is required: %w", err)
	}

	vars, err := variablesFrom(request.GetArguments())
	if err != nil {
		return errorResult(err.Error()), nil
	}

	s.logger.Info("analysis requested", zap.Int("variables", len(vars)))

	outcome, err := s.analyzer.Run(ctx, oracle.CodeGenerationRequest{RequestText: text, Variables: vars})
	if err != nil {
		body, _ := json.Marshal(outcome)
		return errorResult(fmt.Sprintf("Analysis aborted: %v\n%s", err, body)), nil
	}
	return jsonResult(outcome)
}

func (s *MCPServer) handleEnsureImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dockerfile := request.GetString("dockerfile", "")
	image := s.images.Image()

	if err := s.images.EnsureImage(ctx, image, dockerfile); err != nil {
		s.logger.Error("image build failed", zap.String("image", image), zap.Error(err))
		return errorResult(err.Error()), nil
	}
	return textResult(fmt.Sprintf("image %s is ready", image)), nil
}

func (s *MCPServer) handleUsage(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.budget == nil {
		return errorResult("no usage budget configured"), nil
	}
	return jsonResult(s.budget.Usage())
}

// variablesFrom merges plain variables and tables from tool arguments.
func variablesFrom(args map[string]any) (map[string]any, error) {
	vars := make(map[string]any)

	if raw, ok := args["variables"]; ok && raw != nil {
		plain, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("variables must be an object")
		}
		for name, value := range plain {
			vars[name] = value
		}
	}

	if raw, ok := args["tables"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tables: %w", err)
		}
		var tables map[string]dataset.Table
		if err := json.Unmarshal(data, &tables); err != nil {
			return nil, fmt.Errorf("invalid tables: %w", err)
		}
		for name, t := range tables {
			if _, dup := vars[name]; dup {
				return nil, fmt.Errorf("variable %s given both as a value and as a table", name)
			}
			tbl, err := dataset.NewTable(t.Columns...)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", name, err)
			}
			vars[name] = tbl
		}
	}

	return vars, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return textResult(string(data)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
