package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeloop/config"
	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/store"
	"github.com/isdmx/codeloop/workflow"
)

func testConfig(t *testing.T, backend string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Transport: "stdio"},
		Sandbox: config.SandboxConfig{
			Engine:            "docker",
			Image:             "codeloop-runner:test",
			TimeoutSec:        30,
			MemoryMB:          256,
			MaxArtifactSizeMB: 5,
		},
		Workflow: config.WorkflowConfig{MaxAttempts: 2, GenCodesDir: filepath.Join(t.TempDir(), "gen")},
		Oracle:   config.OracleConfig{BaseURL: "http://127.0.0.1:1", Model: "m", TimeoutSec: 1},
		Budget:   config.BudgetConfig{Backend: backend, MaxCalls: 5, MaxTokens: 500},
		Store:    config.StoreConfig{Path: filepath.Join(t.TempDir(), "codeloop.db")},
		Logging:  config.LoggingConfig{Mode: "development", Level: "debug"},
	}
}

func TestModuleWiring(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)

			var (
				orch     *workflow.Orchestrator
				executor sandbox.Executor
				budget   oracle.Budget
				st       *store.SQLite
			)
			app := fxtest.New(t,
				Module,
				fx.Replace(cfg, zaptest.NewLogger(t)),
				fx.Populate(&orch, &executor, &budget, &st),
			)
			app.RequireStart()
			defer app.RequireStop()

			require.NotNil(t, orch)
			require.NotNil(t, st)
			assert.IsType(t, &sandbox.Packager{}, executor)

			if backend == "sqlite" {
				assert.Same(t, st, budget)
			} else {
				assert.IsType(t, &oracle.MemoryBudget{}, budget)
			}
			assert.Equal(t, int64(5), budget.Usage().MaxCalls)
		})
	}
}

func TestNewStoreDisabled(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Store.Path = ""

	st, err := NewStore(fxtest.NewLifecycle(t), zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	assert.Nil(t, st)

	budget := NewBudget(cfg, st)
	assert.IsType(t, &oracle.MemoryBudget{}, budget)
}
