// Package app assembles codeloop's components for dependency injection with
// fx. Both the MCP server and the CLI build on Module.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/codeloop/config"
	"github.com/isdmx/codeloop/logger"
	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/store"
	"github.com/isdmx/codeloop/workflow"
)

// Module provides the configuration, logger, sandbox, oracles, budget, store
// and orchestrator.
var Module = fx.Options(
	fx.Provide(
		config.New,
		logger.NewFromConfig,
		sandbox.NewRuntimeFromConfig,
		NewExecutor,
		NewStore,
		NewBudget,
		NewChatClient,
		NewGenerator,
		NewAssessor,
		NewOrchestrator,
	),
)

// NewExecutor provides the packager as the sandbox executor.
func NewExecutor(logger *zap.Logger, cfg *config.Config, runtime *sandbox.Runtime) sandbox.Executor {
	return sandbox.NewPackagerFromConfig(logger, cfg, runtime)
}

// NewStore opens the SQLite store, or returns nil when store.path is empty.
func NewStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*store.SQLite, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	st, err := store.Open(logger, cfg.Store.Path, store.Limits{
		MaxCalls:  cfg.Budget.MaxCalls,
		MaxTokens: cfg.Budget.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return st.Close()
		},
	})
	return st, nil
}

// NewBudget selects the configured budget backend.
func NewBudget(cfg *config.Config, st *store.SQLite) oracle.Budget {
	if cfg.Budget.Backend == "sqlite" && st != nil {
		return st
	}
	return oracle.NewMemoryBudget(cfg.Budget.MaxCalls, cfg.Budget.MaxTokens)
}

// NewChatClient provides the model backend client.
func NewChatClient(logger *zap.Logger, cfg *config.Config, budget oracle.Budget) oracle.Completer {
	return oracle.NewChatClient(logger, cfg.Oracle, budget)
}

// NewGenerator provides the generation oracle.
func NewGenerator(logger *zap.Logger, completer oracle.Completer) oracle.Generator {
	return oracle.NewChatGenerator(logger, completer)
}

// NewAssessor provides the assessment oracle.
func NewAssessor(logger *zap.Logger, completer oracle.Completer) oracle.Assessor {
	return oracle.NewChatAssessor(logger, completer)
}

// OrchestratorParams are the orchestrator's dependencies. Observer is
// optional and supplied by front ends that report progress.
type OrchestratorParams struct {
	fx.In

	Logger    *zap.Logger
	Config    *config.Config
	Generator oracle.Generator
	Assessor  oracle.Assessor
	Executor  sandbox.Executor
	Store     *store.SQLite
	Observer  workflow.Observer `optional:"true"`
}

// NewOrchestrator provides the retry loop.
func NewOrchestrator(p OrchestratorParams) *workflow.Orchestrator {
	var opts []workflow.Option
	if p.Store != nil {
		opts = append(opts, workflow.WithRecorder(p.Store))
	}
	if dir := p.Config.Workflow.GenCodesDir; dir != "" {
		opts = append(opts, workflow.WithSink(workflow.NewFileSink(dir)))
	}
	if p.Observer != nil {
		opts = append(opts, workflow.WithObserver(p.Observer))
	}

	return workflow.New(p.Logger, workflow.Config{MaxAttempts: p.Config.Workflow.MaxAttempts}, p.Generator, p.Assessor, p.Executor, opts...)
}
