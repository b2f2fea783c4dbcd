package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codeloop/metrics"
	"github.com/isdmx/codeloop/sandbox"
)

// Completer sends a conversation to a model backend. ChatClient implements it.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// ChatGenerator implements Generator against a Completer.
type ChatGenerator struct {
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

// NewChatGenerator creates a generator.
func NewChatGenerator(logger *zap.Logger, completer Completer) *ChatGenerator {
	return &ChatGenerator{completer: completer, logger: logger, now: time.Now}
}

// GenerateCode implements Generator.
func (g *ChatGenerator) GenerateCode(ctx context.Context, req CodeGenerationRequest) (CodeGenerationResult, error) {
	messages := []ChatMessage{
		{Role: RoleSystem, Content: generatorSystemPrompt},
		{Role: RoleUser, Content: generationPrompt(g.now, req)},
	}

	content, err := g.completer.Complete(ctx, messages)
	if err != nil {
		return CodeGenerationResult{}, fail(NameGeneration, err)
	}

	var result CodeGenerationResult
	if err := decodeJSON(content, &result); err != nil {
		return CodeGenerationResult{}, fail(NameGeneration, err)
	}
	if strings.TrimSpace(result.Code) == "" {
		return CodeGenerationResult{}, fail(NameGeneration, errors.Join(ErrMalformedResponse, errors.New("empty code")))
	}

	metrics.OracleCallsTotal.WithLabelValues(NameGeneration, "ok").Inc()
	g.logger.Debug("Code generated",
		zap.Int("code_bytes", len(result.Code)))
	return result, nil
}

// ChatAssessor implements Assessor against a Completer. Failed executions
// are framed as a debugging task, successful ones as a review.
type ChatAssessor struct {
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

// NewChatAssessor creates an assessor.
func NewChatAssessor(logger *zap.Logger, completer Completer) *ChatAssessor {
	return &ChatAssessor{completer: completer, logger: logger, now: time.Now}
}

// AssessCodeOutput implements Assessor. Each history item is threaded in as
// a prior assistant message.
func (a *ChatAssessor) AssessCodeOutput(ctx context.Context, req CodeGenerationRequest, execution sandbox.ExecutionResult, code string, history []HistoryItem) (CodeAssessmentResult, error) {
	system := assessorSystemPrompt
	if !execution.Success() {
		system = generatorSystemPrompt
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: system})
	for _, item := range history {
		messages = append(messages, ChatMessage{Role: RoleAssistant, Content: item.Message()})
	}
	messages = append(messages, ChatMessage{
		Role:    RoleUser,
		Content: assessmentPrompt(a.now, req, execution.Stdout, execution.Stderr, code, execution.Success()),
	})

	content, err := a.completer.Complete(ctx, messages)
	if err != nil {
		return CodeAssessmentResult{}, fail(NameAssessment, err)
	}

	result, err := decodeAssessment(content)
	if err != nil {
		return CodeAssessmentResult{}, fail(NameAssessment, err)
	}

	metrics.OracleCallsTotal.WithLabelValues(NameAssessment, "ok").Inc()
	a.logger.Debug("Execution assessed",
		zap.Bool("success", result.Success),
		zap.Bool("should_retry", result.ShouldRetry),
		zap.Int("history", len(history)))
	return result, nil
}

// assessmentAnswer mirrors CodeAssessmentResult with the verdict fields
// required, so an answer in some other shape is rejected.
type assessmentAnswer struct {
	Success     *bool  `json:"success"`
	ShouldRetry *bool  `json:"should_retry"`
	Analysis    string `json:"analysis"`
	Plan        string `json:"plan"`
	Code        string `json:"code"`
}

func decodeAssessment(content string) (CodeAssessmentResult, error) {
	var answer assessmentAnswer
	if err := decodeJSON(content, &answer); err != nil {
		return CodeAssessmentResult{}, err
	}
	if answer.Success == nil || answer.ShouldRetry == nil {
		return CodeAssessmentResult{}, fmt.Errorf("%w: answer lacks success or should_retry", ErrMalformedResponse)
	}
	return CodeAssessmentResult{
		Success:     *answer.Success,
		ShouldRetry: *answer.ShouldRetry,
		Analysis:    answer.Analysis,
		Plan:        answer.Plan,
		Code:        answer.Code,
	}, nil
}

func fail(oracle string, err error) error {
	status := "error"
	if errors.Is(err, ErrUsageLimitExceeded) {
		status = "rejected"
	}
	metrics.OracleCallsTotal.WithLabelValues(oracle, status).Inc()
	return &Failure{Oracle: oracle, Err: err}
}
