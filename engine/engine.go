package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"auto_doc_writer/generator"
)

// Generator is the completion source the engine drives; *generator.FallbackGenerator
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, messages []generator.Message, temperature float64, maxTokens int) (generator.Completion, error)
}

// Settings are the engine's thresholds. MaxOutputTokens caps the completion size
// requested for one section.
type Settings struct {
	MaxIterations    int
	SubstantialChars int
	WordsPerPage     int
	DefaultTaskWords int
	MaxOutputTokens  int
}

func DefaultSettings() Settings {
	return Settings{
		MaxIterations:    100,
		SubstantialChars: 500,
		WordsPerPage:     250,
		DefaultTaskWords: 250,
		MaxOutputTokens:  8000,
	}
}

// Engine advances a document through plan, clarification, execution, review and
// postprocessing, one call at a time. It holds no per-document state: everything it
// needs between calls travels in Request.Memory.
type Engine struct {
	gen      Generator
	settings Settings
	logger   *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithSettings(s Settings) Option {
	return func(e *Engine) {
		d := DefaultSettings()
		if s.MaxIterations <= 0 {
			s.MaxIterations = d.MaxIterations
		}
		if s.SubstantialChars <= 0 {
			s.SubstantialChars = d.SubstantialChars
		}
		if s.WordsPerPage <= 0 {
			s.WordsPerPage = d.WordsPerPage
		}
		if s.DefaultTaskWords <= 0 {
			s.DefaultTaskWords = d.DefaultTaskWords
		}
		if s.MaxOutputTokens <= 0 {
			s.MaxOutputTokens = d.MaxOutputTokens
		}
		e.settings = s
	}
}

func New(gen Generator, opts ...Option) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	e := &Engine{
		gen:      gen,
		settings: DefaultSettings(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// step is the outcome of running one phase. When recurse is set the engine runs next
// immediately instead of returning result.
type step struct {
	result  Result
	next    state
	recurse bool
}

// Advance runs one logical step. Transitions that chain synchronously (execute into
// review, review into postprocess) are driven by a loop bounded by MaxIterations.
// The only error returned is a hard provider failure.
func (e *Engine) Advance(ctx context.Context, req Request) (Result, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	logger := e.logger.With("correlation_id", req.CorrelationID)

	st, iter, err := decodeMemory(req.Memory)
	if req.IterationCount > iter {
		iter = req.IterationCount
	}
	if err != nil {
		logger.Warn("engine.state_reset", "error", err.Error(), "reset_to", st.phase())
		return e.finish(e.resetResult(st, err), st, iter), nil
	}

	for {
		if iter >= e.settings.MaxIterations {
			logger.Warn("engine.iteration_limit", "iterations", iter, "phase", st.phase())
			done := completeState{plan: planOf(st)}
			return e.finish(e.exhaustedResult(done), done, iter), nil
		}
		logger.Info("engine.phase", "phase", st.phase(), "iteration", iter)
		out, err := e.run(ctx, logger, st, req)
		if err != nil {
			logger.Error("engine.phase_failed", "phase", st.phase(), "error", err.Error())
			return Result{}, err
		}
		iter++
		if out.recurse {
			st = out.next
			continue
		}
		return e.finish(out.result, out.next, iter), nil
	}
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, st state, req Request) (step, error) {
	switch s := st.(type) {
	case planningState:
		return e.plan(ctx, logger, req)
	case clarifyingState:
		return e.answer(ctx, logger, s, req)
	case executingState:
		return e.execute(ctx, logger, s, req)
	case reviewingState:
		return e.review(ctx, logger, s, req)
	case postprocessingState:
		return e.postprocess(ctx, logger, s, req)
	case completeState:
		return e.complete(s), nil
	}
	return step{}, ErrUnknownPhase
}

func (e *Engine) finish(res Result, next state, iter int) Result {
	res.Memory = encodeMemory(next, iter)
	res.IterationCount = iter
	if res.Actions == nil {
		res.Actions = []Action{}
	}
	if res.Plan == nil {
		res.Plan = planOf(next)
	}
	if res.SuggestedTitle == "" && res.Plan != nil {
		res.SuggestedTitle = res.Plan.SuggestedTitle
	}
	return res
}

func (e *Engine) resetResult(st state, cause error) Result {
	progress := "Recovering generation state"
	if errors.Is(cause, ErrUnknownPhase) {
		progress = "Recovering from an unknown phase"
	}
	return Result{
		Phase:           st.phase(),
		Message:         "Generation state was inconsistent and has been reset; continuing from " + string(st.phase()) + ".",
		ProgressMessage: progress,
		Confidence:      ConfidenceLow,
		ShouldContinue:  true,
	}
}

func (e *Engine) exhaustedResult(done completeState) Result {
	return Result{
		Phase:          PhaseReview,
		Message:        "Reached the iteration limit; finishing with the current content.",
		Confidence:     ConfidenceMedium,
		IsComplete:     true,
		ShouldContinue: false,
		Plan:           planOf(done),
	}
}

func (e *Engine) complete(s completeState) step {
	return step{
		result: Result{
			Phase:      PhaseComplete,
			Message:    "Document is complete.",
			Confidence: ConfidenceHigh,
			IsComplete: true,
		},
		next: s,
	}
}
