package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"finsight/internal/brain"
	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/common/observability"
	"finsight/internal/guardrails"
	"finsight/internal/history"
	"finsight/internal/llm"
	"finsight/internal/reasoning"
)

const (
	StatusSuccess   = "success"
	StatusBlocked   = "blocked"
	StatusNoResults = "no_results"
	StatusError     = "error"
)

const noResultsAnswer = "I could not find any data matching your question. " +
	"Try rephrasing it or asking about a different period."

const answerInstructions = `You are a banking assistant answering questions about
the customer's own accounts. Use only the data provided in the prompt, never
invent figures. Be concise and factual.`

// Result is the caller-facing outcome of one answered question.
type Result struct {
	ID            string                   `json:"id"`
	Status        string                   `json:"status"`
	Answer        string                   `json:"answer"`
	ResponseKind  string                   `json:"responseKind,omitempty"`
	Degraded      bool                     `json:"degraded,omitempty"`
	ActiveAgents  []string                 `json:"activeAgents,omitempty"`
	InputVerdict  *guardrails.Verdict      `json:"inputVerdict,omitempty"`
	OutputVerdict *guardrails.Verdict      `json:"outputVerdict,omitempty"`
	Error         *apperrors.StandardError `json:"error,omitempty"`
	LatencyMs     int64                    `json:"latencyMs"`
	TokensUsed    int                      `json:"tokensUsed,omitempty"`
}

type dispatcher interface {
	Dispatch(ctx context.Context, rawQuery, cif string) (*brain.RunResult, error)
}

type synthesizer interface {
	Synthesize(result *brain.RunResult) *reasoning.Response
}

type generator interface {
	Enabled() bool
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

type guard interface {
	Check(ctx context.Context, text, phase string) guardrails.Verdict
}

type recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Service runs the full answer pipeline: input guardrail, dispatch,
// synthesis, generation, output guardrail, history.
type Service struct {
	guard       guard
	dispatcher  dispatcher
	synthesizer synthesizer
	generator   generator
	recorder    recorder
	obs         *observability.Observability
	log         logger.Logger
}

func NewService(g guard, d dispatcher, s synthesizer, gen generator, r recorder, obs *observability.Observability, log logger.Logger) *Service {
	return &Service{
		guard:       g,
		dispatcher:  d,
		synthesizer: s,
		generator:   gen,
		recorder:    r,
		obs:         obs,
		log:         log,
	}
}

// Answer processes one question end to end. It never panics, an unexpected
// fault is reported as a status=error result.
func (s *Service) Answer(ctx context.Context, query, cif string) (result *Result) {
	start := time.Now()
	result = &Result{ID: uuid.New().String(), Status: StatusSuccess}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("answer pipeline panicked", map[string]interface{}{
				"cif":   cif,
				"panic": r,
			})
			result.Status = StatusError
			result.Answer = ""
			result.Error = apperrors.New(apperrors.ErrCodeAgentFault, "internal error while answering")
		}
		result.LatencyMs = time.Since(start).Milliseconds()
		if s.obs != nil {
			s.obs.RecordRequest(ctx, result.Status)
			s.obs.RecordDuration(ctx, float64(result.LatencyMs), result.Status)
		}
		s.record(ctx, query, cif, result)
	}()

	input := s.guard.Check(ctx, query, "input")
	result.InputVerdict = &input
	if input.Blocked() {
		result.Status = StatusBlocked
		result.Answer = input.Message
		return result
	}
	effectiveQuery := input.TransformedText

	runResult, err := s.dispatcher.Dispatch(ctx, effectiveQuery, cif)
	if err != nil {
		result.Status = StatusError
		result.Error = asStandardError(err)
		return result
	}
	result.ActiveAgents = runResult.ActiveAgents
	result.Degraded = runResult.Context.Degraded

	synth := s.synthesizer.Synthesize(runResult)
	result.ResponseKind = synth.Kind

	if synth.Status == reasoning.StatusNoResults {
		result.Status = StatusNoResults
		result.Answer = noResultsAnswer
		return result
	}

	answer, tokens, err := s.generateAnswer(ctx, synth)
	if err != nil {
		result.Status = StatusError
		result.Error = asStandardError(err)
		return result
	}
	result.Answer = answer
	result.TokensUsed = tokens

	output := s.guard.Check(ctx, result.Answer, "output")
	result.OutputVerdict = &output
	if output.Blocked() {
		result.Answer = output.Message
	} else {
		result.Answer = output.TransformedText
	}
	return result
}

// generateAnswer calls the model with the synthesized context, or renders a
// plain answer from the insights when no generation service is configured.
func (s *Service) generateAnswer(ctx context.Context, synth *reasoning.Response) (string, int, error) {
	if s.generator == nil || !s.generator.Enabled() {
		return fallbackAnswer(synth), 0, nil
	}

	resp, err := s.generator.Generate(ctx, llm.Request{
		SystemInstructions: answerInstructions,
		UserPrompt:         synth.GenerationContext,
	})
	if err != nil {
		return "", 0, err
	}
	return resp.AnswerText, resp.TokensUsed, nil
}

func fallbackAnswer(synth *reasoning.Response) string {
	if len(synth.Insights) > 0 {
		return strings.Join(synth.Insights, " ")
	}
	return "Here is the data found for your question."
}

func (s *Service) record(ctx context.Context, query, cif string, result *Result) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(ctx, &history.Entry{
		ID:           result.ID,
		CIF:          cif,
		Query:        query,
		Answer:       result.Answer,
		Status:       result.Status,
		ResponseKind: result.ResponseKind,
		LatencyMs:    result.LatencyMs,
		TokensUsed:   result.TokensUsed,
	})
	if err != nil {
		s.log.Warn("failed to record answer history", map[string]interface{}{
			"cif":   cif,
			"error": err.Error(),
		})
	}
}

func asStandardError(err error) *apperrors.StandardError {
	if se, ok := err.(*apperrors.StandardError); ok {
		return se
	}
	return apperrors.Wrap(apperrors.ErrCodeAgentFault, "unexpected failure", err)
}
