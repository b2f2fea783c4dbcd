package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codeloop/metrics"
	"github.com/isdmx/codeloop/oracle"
	"github.com/isdmx/codeloop/sandbox"
	"github.com/isdmx/codeloop/store"
)

// State is a position in the retry state machine.
type State string

// States
const (
	StateGenerating State = "GENERATING"
	StateExecuting  State = "EXECUTING"
	StateAssessing  State = "ASSESSING"
	StateSucceeded  State = "SUCCEEDED"
	StateExhausted  State = "EXHAUSTED"
	StateStopped    State = "STOPPED"
)

// stateAborted labels runs that ended with an error in metrics and records.
const stateAborted = "ABORTED"

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateStopped
}

// DefaultMaxAttempts is used when Config.MaxAttempts is not positive.
const DefaultMaxAttempts = 3

// Config holds orchestrator settings
type Config struct {
	MaxAttempts int
	// Image overrides the sandbox's configured image when set.
	Image string
}

// Outcome is the result of one top-level request. On a terminal state Code,
// Execution and Assessment hold the last attempt.
type Outcome struct {
	RunID       string                      `json:"run_id"`
	State       State                       `json:"state"`
	Attempts    int                         `json:"attempts"`
	Explanation string                      `json:"explanation,omitempty"`
	Code        string                      `json:"code"`
	Execution   sandbox.ExecutionResult     `json:"execution"`
	Assessment  oracle.CodeAssessmentResult `json:"assessment"`
	History     []oracle.HistoryItem        `json:"history"`
}

// Sink persists the code of a succeeding run.
type Sink interface {
	Save(ctx context.Context, runID string, req oracle.CodeGenerationRequest, code string) error
}

// Recorder stores a summary of every finished run.
type Recorder interface {
	RecordRun(ctx context.Context, rec store.RunRecord) error
}

// Observer is notified as the loop progresses. Attempt numbers start at 1.
type Observer interface {
	Generated(result oracle.CodeGenerationResult)
	Executed(attempt int, code string, result sandbox.ExecutionResult)
	Assessed(attempt int, assessment oracle.CodeAssessmentResult)
}

// Orchestrator runs the retry state machine. It holds no per-request state
// and is safe for concurrent use.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       Config
	generator oracle.Generator
	assessor  oracle.Assessor
	executor  sandbox.Executor
	sink      Sink
	recorder  Recorder
	observer  Observer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSink sets where succeeding code is saved.
func WithSink(sink Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithRecorder sets where finished runs are recorded.
func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithObserver sets a progress observer.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// New creates an Orchestrator
func New(logger *zap.Logger, cfg Config, generator oracle.Generator, assessor oracle.Assessor, executor sandbox.Executor, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	o := &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		generator: generator,
		assessor:  assessor,
		executor:  executor,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes one request to a terminal state. A non-nil error means the
// request was aborted; the returned Outcome then reflects the state reached.
func (o *Orchestrator) Run(ctx context.Context, req oracle.CodeGenerationRequest) (outcome *Outcome, err error) {
	outcome = &Outcome{RunID: uuid.NewString(), State: StateGenerating}
	logger := o.logger.With(zap.String("run_id", outcome.RunID))
	logger.Info("Run started",
		zap.Int("max_attempts", o.cfg.MaxAttempts),
		zap.Int("variables", len(req.Variables)))

	defer func() {
		o.finish(ctx, logger, req, outcome, err)
	}()

	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	generated, err := o.generator.GenerateCode(ctx, req)
	if err != nil {
		return outcome, err
	}
	if o.observer != nil {
		o.observer.Generated(generated)
	}
	outcome.Explanation = generated.Explanation
	outcome.Code = generated.Code

	var plan string
	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		outcome.State = StateExecuting
		execution, err := o.executor.Execute(ctx, sandbox.ExecuteRequest{
			Code:      outcome.Code,
			Variables: req.Variables,
			Image:     o.cfg.Image,
		})
		if err != nil {
			return outcome, fmt.Errorf("attempt %d: %w", outcome.Attempts+1, err)
		}
		outcome.Execution = execution
		if o.observer != nil {
			o.observer.Executed(outcome.Attempts+1, outcome.Code, execution)
		}

		outcome.State = StateAssessing
		outcome.Attempts++
		metrics.AttemptsTotal.Inc()

		assessment, err := o.assessor.AssessCodeOutput(ctx, req, execution, outcome.Code, slices.Clone(outcome.History))
		if err != nil {
			return outcome, err
		}
		outcome.Assessment = assessment
		if o.observer != nil {
			o.observer.Assessed(outcome.Attempts, assessment)
		}

		outcome.History = append(outcome.History, oracle.HistoryItem{
			Plan:       plan,
			Code:       outcome.Code,
			Execution:  execution,
			Assessment: assessment,
		})
		plan = assessment.Plan

		logger.Debug("Attempt assessed",
			zap.Int("attempt", outcome.Attempts),
			zap.Int("exit_code", execution.ExitCode),
			zap.Bool("success", assessment.Success),
			zap.Bool("should_retry", assessment.ShouldRetry))

		switch {
		case assessment.Success:
			outcome.State = StateSucceeded
			o.save(ctx, logger, outcome.RunID, req, outcome.Code)
			return outcome, nil
		case outcome.Attempts >= o.cfg.MaxAttempts:
			outcome.State = StateExhausted
			return outcome, nil
		case assessment.ShouldRetry && assessment.Code != "":
			outcome.Code = assessment.Code
		default:
			outcome.State = StateStopped
			return outcome, nil
		}
	}
}

func (o *Orchestrator) save(ctx context.Context, logger *zap.Logger, runID string, req oracle.CodeGenerationRequest, code string) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Save(ctx, runID, req, code); err != nil {
		logger.Error("Failed to save generated code", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, req oracle.CodeGenerationRequest, outcome *Outcome, err error) {
	state := string(outcome.State)
	if err != nil {
		state = stateAborted
		logger.Error("Run aborted",
			zap.String("state", string(outcome.State)),
			zap.Int("attempts", outcome.Attempts),
			zap.Bool("infrastructural", IsInfrastructural(err)),
			zap.Error(err))
	} else {
		logger.Info("Run finished",
			zap.String("state", state),
			zap.Int("attempts", outcome.Attempts))
	}
	metrics.RunsTotal.WithLabelValues(state).Inc()

	if o.recorder == nil {
		return
	}
	rec := store.RunRecord{
		ID:        outcome.RunID,
		Timestamp: time.Now(),
		Request:   req.RequestText,
		State:     state,
		Attempts:  outcome.Attempts,
		Code:      outcome.Code,
		Stdout:    outcome.Execution.Stdout,
		Stderr:    outcome.Execution.Stderr,
		ExitCode:  outcome.Execution.ExitCode,
		Analysis:  outcome.Assessment.Analysis,
	}
	// The run's own context may already be cancelled.
	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("Failed to record run", zap.Error(err))
	}
}

// IsInfrastructural reports whether err comes from the sandbox engine
// rather than from the generated code or an oracle.
func IsInfrastructural(err error) bool {
	var build *sandbox.BuildFailure
	var transport *sandbox.TransportFailure
	return errors.As(err, &build) || errors.As(err, &transport)
}
