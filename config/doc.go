// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and CODELOOP_* environment variables. It
// covers the server transport, the sandbox runtime, the retry workflow, the
// model oracle, the usage budget, the SQLite store and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Runner image: %s\n", cfg.Sandbox.Image)
package config
