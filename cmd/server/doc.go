// Package main is the entry point for the codeloop MCP server.
//
// The server exposes sandboxed Python execution and the generate, execute
// and assess loop to MCP clients over stdio or HTTP. When
// server.metrics_port is set, Prometheus metrics are served on /metrics.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
