// Package workflow drives the generate, execute and assess loop for one
// natural-language request.
//
// The Orchestrator calls the Generator exactly once, then alternates sandboxed
// execution with assessment until the assessor accepts the output, the
// attempt ceiling is reached, or the assessor declines to continue. Every
// completed attempt is appended to the history handed to the next
// assessment.
//
// Code failures (a nonzero exit status) are input to the assessor and never
// abort the loop. Oracle failures and infrastructural sandbox errors
// (BuildFailure, TransportFailure) abort the request; the partial Outcome is
// still returned alongside the error.
package workflow
