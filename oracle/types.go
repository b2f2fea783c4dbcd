package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/isdmx/codeloop/sandbox"
)

// CodeGenerationRequest is the natural-language request and the caller's
// variables. It is read by both oracles and by the sandbox packager.
type CodeGenerationRequest struct {
	RequestText string
	Variables   map[string]any
}

// CodeGenerationResult is the generation oracle's answer.
type CodeGenerationResult struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

// CodeAssessmentResult is the assessment oracle's verdict on one attempt.
// ShouldRetry is ignored when Success is true, and a retry without Code is
// treated as a stop.
type CodeAssessmentResult struct {
	Success     bool   `json:"success"`
	ShouldRetry bool   `json:"should_retry"`
	Analysis    string `json:"analysis"`
	Plan        string `json:"plan,omitempty"`
	Code        string `json:"code,omitempty"`
}

// HistoryItem records one completed attempt. Plan is the plan that was in
// effect before the attempt ran.
type HistoryItem struct {
	Plan       string                  `json:"plan"`
	Code       string                  `json:"code"`
	Execution  sandbox.ExecutionResult `json:"execution"`
	Assessment CodeAssessmentResult    `json:"assessment"`
}

// Message renders the item as context for the next assessment.
func (h HistoryItem) Message() string {
	return fmt.Sprintf("Plan:\n%s\n\nExecution Result:\n%s\n%s\n\nAnalysis:\n%s",
		h.Plan, h.Execution.Stdout, h.Execution.Stderr, h.Assessment.Analysis)
}

// Generator turns a request into candidate code.
type Generator interface {
	GenerateCode(ctx context.Context, req CodeGenerationRequest) (CodeGenerationResult, error)
}

// Assessor judges an execution against the request and prior attempts.
type Assessor interface {
	AssessCodeOutput(ctx context.Context, req CodeGenerationRequest, execution sandbox.ExecutionResult, code string, history []HistoryItem) (CodeAssessmentResult, error)
}

// Oracle names used in errors and metrics
const (
	NameGeneration = "generation"
	NameAssessment = "assessment"
)

var (
	// ErrUsageLimitExceeded is returned when the shared budget refuses a call.
	ErrUsageLimitExceeded = errors.New("usage limit exceeded")
	// ErrMalformedResponse is returned when the backend answer cannot be parsed.
	ErrMalformedResponse = errors.New("malformed oracle response")
)

// Failure reports that an oracle call itself failed. The workflow does not
// retry it.
type Failure struct {
	Oracle string
	Err    error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%s oracle failed: %v", e.Oracle, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}
