package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"auto_doc_writer/generator"
)

const (
	planTemperature        = 0.3
	planMaxTokens          = 2000
	executeTemperature     = 0.7
	reviewTemperature      = 0.2
	reviewMaxTokens        = 1500
	postprocessTemperature = 0.5
	postprocessMaxTokens   = 8000
)

// reviewResponse is the editor's verdict.
type reviewResponse struct {
	Quality    string `json:"quality"`
	IsComplete bool   `json:"isComplete"`
	Message    string `json:"message"`
	NextTasks  []Task `json:"nextTasks"`
}

func confidenceOf(parsed bool) Confidence {
	if parsed {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

func (e *Engine) generate(ctx context.Context, logger *slog.Logger, p Prompt, temperature float64, maxTokens int) (string, error) {
	c, err := e.gen.Generate(ctx, p.Messages(), temperature, maxTokens)
	if err != nil {
		return "", err
	}
	logger.Debug("engine.completion", "provider_id", c.ProviderID, "model", c.ModelID, "chars", len(c.Content))
	return c.Content, nil
}

func (e *Engine) plan(ctx context.Context, logger *slog.Logger, req Request) (step, error) {
	raw, err := e.generate(ctx, logger, BuildPlanPrompt(req.Instruction), planTemperature, planMaxTokens)
	if err != nil {
		return step{}, err
	}
	resp, parsed := generator.Recover(logger, raw, fallbackPlan(req.Instruction))
	plan := normalizePlan(resp.Plan, req.Instruction)

	if resp.HasQuestions {
		questions := cleanQuestions(resp.Questions)
		if len(questions) == 0 {
			questions = cloneStrings(defaultQuestions)
		}
		plan.Questions = questions
		logger.Info("engine.clarify", "questions", len(questions))
		next := clarifyingState{plan: plan, questions: questions}
		return step{
			result: Result{
				Phase:          PhasePlan,
				Message:        questions[0],
				Confidence:     confidenceOf(parsed),
				ShouldContinue: false,
				Plan:           planOf(next),
			},
			next: next,
		}, nil
	}

	plan.Questions = nil
	plan = ensureTasks(plan)
	next := executingState{plan: plan}
	return step{
		result: Result{
			Phase:          PhasePlan,
			Message:        planSummary(plan),
			Confidence:     confidenceOf(parsed),
			ShouldContinue: true,
			Plan:           planOf(next),
		},
		next: next,
	}, nil
}

// answer records the client's reply to the current question. After the last one the
// plan is rebuilt from the full transcript.
func (e *Engine) answer(ctx context.Context, logger *slog.Logger, s clarifyingState, req Request) (step, error) {
	answers := cloneStrings(s.answers)
	for len(answers) < s.index {
		answers = append(answers, "")
	}
	answers = append(answers[:s.index], strings.TrimSpace(req.Instruction))

	if s.index+1 < len(s.questions) {
		next := clarifyingState{plan: s.plan, questions: s.questions, index: s.index + 1, answers: answers}
		return step{
			result: Result{
				Phase:      PhaseAwaitingAnswers,
				Message:    s.questions[s.index+1],
				Confidence: ConfidenceHigh,
				Plan:       planOf(next),
			},
			next: next,
		}, nil
	}

	original := s.plan.Variables.OriginalInstruction
	raw, err := e.generate(ctx, logger, BuildRefinePrompt(s.plan, s.questions, answers), planTemperature, planMaxTokens)
	if err != nil {
		return step{}, err
	}
	resp, parsed := generator.Recover(logger, raw, fallbackPlan(original))
	plan := normalizePlan(resp.Plan, original)
	plan.Variables.OriginalInstruction = original
	plan.Questions = nil
	plan = ensureTasks(plan)
	logger.Info("engine.plan_refined", "sections", len(plan.RequiredSections), "tasks", len(plan.Tasks))

	next := executingState{plan: plan}
	return step{
		result: Result{
			Phase:          PhaseAwaitingAnswers,
			Message:        "Thanks, the plan is updated. " + planSummary(plan),
			Confidence:     confidenceOf(parsed),
			ShouldContinue: true,
			Plan:           planOf(next),
		},
		next: next,
	}, nil
}

// execute writes exactly one task: the first one not yet done, in list order.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, s executingState, req Request) (step, error) {
	idx := firstPending(s.plan.Tasks)
	if idx < 0 {
		return step{next: reviewingState{plan: s.plan}, recurse: true}, nil
	}
	task := s.plan.Tasks[idx]
	completed := countDone(s.plan.Tasks)
	total := len(s.plan.Tasks)
	substantial := countSubstantial(req.Sections, e.settings.SubstantialChars)
	words := wordBudget(s.plan, e.settings.WordsPerPage, e.settings.DefaultTaskWords)
	logger.Info("engine.execute_task", "section", task.Section, "index", idx, "words", words)

	prompt := BuildExecutePrompt(s.plan, req.Sections, task, substantial, words)
	raw, err := e.generate(ctx, logger, prompt, executeTemperature, executeTokens(words, e.settings.MaxOutputTokens))
	if err != nil {
		return step{}, err
	}
	resp, parsed := generator.Recover(logger, raw, editResponse{
		Message: fmt.Sprintf("Could not read the model's edits for %s; no changes were applied.", task.Section),
	})
	actions := normalizeActions(resp.Actions, req.Sections, task.Section)

	plan := s.plan.clone()
	plan.Tasks = markDone(plan.Tasks, idx)
	var next state = executingState{plan: plan}
	if firstPending(plan.Tasks) < 0 {
		next = reviewingState{plan: plan}
	}

	message := strings.TrimSpace(resp.Message)
	if message == "" {
		message = "Wrote " + task.Section
	}
	return step{
		result: Result{
			Phase:           PhaseExecute,
			Actions:         actions,
			Message:         message,
			ProgressMessage: progressMessage(task.Section, completed, total),
			Confidence:      confidenceOf(parsed),
			ShouldContinue:  next.phase() != PhaseComplete,
			Plan:            planOf(next),
		},
		next: next,
	}, nil
}

func (e *Engine) review(ctx context.Context, logger *slog.Logger, s reviewingState, req Request) (step, error) {
	instruction := s.plan.Variables.OriginalInstruction
	if instruction == "" {
		instruction = req.Instruction
	}
	raw, err := e.generate(ctx, logger, BuildReviewPrompt(s.plan, instruction, req.Sections), reviewTemperature, reviewMaxTokens)
	if err != nil {
		return step{}, err
	}
	verdict, parsed := generator.Recover(logger, raw, reviewResponse{
		IsComplete: true,
		Message:    "Review was inconclusive; treating the document as complete.",
	})
	if allSubstantial(req.Sections, e.settings.SubstantialChars) {
		if !verdict.IsComplete {
			logger.Info("engine.review_override", "sections", len(req.Sections))
		}
		verdict.IsComplete = true
		verdict.NextTasks = nil
	}
	nextTasks := normalizeTasks(verdict.NextTasks)
	logger.Info("engine.review", "quality", verdict.Quality, "complete", verdict.IsComplete, "next_tasks", len(nextTasks))

	if !verdict.IsComplete && len(nextTasks) > 0 {
		plan := s.plan.clone()
		plan.Tasks = append(plan.Tasks, nextTasks...)
		next := executingState{plan: plan}
		message := strings.TrimSpace(verdict.Message)
		if message == "" {
			message = fmt.Sprintf("Review found %d more task(s).", len(nextTasks))
		}
		return step{
			result: Result{
				Phase:          PhaseReview,
				Message:        message,
				Confidence:     confidenceOf(parsed),
				IsComplete:     false,
				ShouldContinue: true,
				Plan:           planOf(next),
			},
			next: next,
		}, nil
	}
	return step{next: postprocessingState{plan: s.plan}, recurse: true}, nil
}

func (e *Engine) postprocess(ctx context.Context, logger *slog.Logger, s postprocessingState, req Request) (step, error) {
	var actions []Action
	parsed := true
	message := "Document is complete."
	if len(req.Sections) > 0 {
		raw, err := e.generate(ctx, logger, BuildPostprocessPrompt(req.Sections), postprocessTemperature, postprocessMaxTokens)
		if err != nil {
			return step{}, err
		}
		var resp editResponse
		resp, parsed = generator.Recover(logger, raw, editResponse{})
		actions = humanizeEdits(logger, resp.Actions, req.Sections)
		if len(actions) > 0 {
			message = fmt.Sprintf("Polished %d section(s). Document is complete.", len(actions))
		}
	}
	plan := s.plan.clone()
	next := completeState{plan: &plan}
	return step{
		result: Result{
			Phase:          PhasePostprocess,
			Actions:        actions,
			Message:        message,
			Confidence:     confidenceOf(parsed),
			IsComplete:     true,
			ShouldContinue: false,
			Plan:           planOf(next),
		},
		next: next,
	}, nil
}

// executeTokens sizes one section's completion from its word budget, capped at limit.
func executeTokens(words, limit int) int {
	return min(words*3+500, limit)
}

func cleanQuestions(questions []string) []string {
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func planSummary(p Plan) string {
	if len(p.RequiredSections) == 0 {
		return fmt.Sprintf("Planned %d task(s).", len(p.Tasks))
	}
	return fmt.Sprintf("Planned %d section(s): %s.", len(p.RequiredSections), strings.Join(p.RequiredSections, ", "))
}
