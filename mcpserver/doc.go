// Package mcpserver exposes codeloop over the Model Context Protocol.
//
// Four tools are registered with the mark3labs/mcp-go server:
//
//   - execute_code runs a Python program in the sandbox against the given
//     variables and returns stdout, stderr, the exit code and, optionally, a
//     base64 tar.gz of the files the program wrote.
//   - analyze runs the full generate, execute and assess loop for a
//     natural-language request and returns the outcome with its history.
//   - ensure_image builds the runner image if it is missing.
//   - usage reports the shared oracle budget.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, executor, analyzer, images, budget)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
