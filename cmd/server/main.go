package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codeloop/app"
	"github.com/isdmx/codeloop/config"
	"github.com/isdmx/codeloop/mcpserver"
	"github.com/isdmx/codeloop/metrics"
	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/workflow"
)

func main() {
	fxApp := fx.New(
		app.Module,

		// MCP Server
		fx.Provide(newMCPServer),

		fx.Invoke(startMetrics),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	fxApp.Run()
}

func newMCPServer(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, orch *workflow.Orchestrator, runtime *sandbox.Runtime, budget oracle.Budget) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, logger, executor, orch, runtime, budget)
}

// startMetrics serves /metrics while the application runs.
func startMetrics(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) {
	if cfg.Server.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
