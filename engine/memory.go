package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownPhase   = errors.New("unknown phase")
	ErrMissingPlan    = errors.New("continuation state has no plan")
	ErrMalformedState = errors.New("malformed continuation state")
)

// Memory is the wire form of the continuation state. Callers store it verbatim and
// hand it back on the next call; only this package interprets it.
type Memory struct {
	CurrentPhase   Phase    `json:"currentPhase,omitempty"`
	Plan           *Plan    `json:"plan,omitempty"`
	AllQuestions   []string `json:"allQuestions,omitempty"`
	QuestionIndex  int      `json:"questionIndex,omitempty"`
	Answers        []string `json:"answers,omitempty"`
	IterationCount int      `json:"iterationCount,omitempty"`
}

// state is the decoded, per-phase form of Memory.
type state interface {
	phase() Phase
}

type planningState struct{}

type clarifyingState struct {
	plan      Plan
	questions []string
	index     int
	answers   []string
}

type executingState struct{ plan Plan }

type reviewingState struct{ plan Plan }

type postprocessingState struct{ plan Plan }

type completeState struct{ plan *Plan }

func (planningState) phase() Phase       { return PhasePlan }
func (clarifyingState) phase() Phase     { return PhaseAwaitingAnswers }
func (executingState) phase() Phase      { return PhaseExecute }
func (reviewingState) phase() Phase      { return PhaseReview }
func (postprocessingState) phase() Phase { return PhasePostprocess }
func (completeState) phase() Phase       { return PhaseComplete }

func normalizePhase(p Phase) Phase {
	switch p {
	case "", "planning":
		return PhasePlan
	}
	return p
}

// CurrentPhase reports the phase a continuation blob is in without validating it.
func CurrentPhase(raw json.RawMessage) Phase {
	if isBlank(raw) {
		return PhasePlan
	}
	var m Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return PhasePlan
	}
	return normalizePhase(m.CurrentPhase)
}

// DecodePlan extracts the plan carried by a continuation blob, if any.
func DecodePlan(raw json.RawMessage) (*Plan, error) {
	if isBlank(raw) {
		return nil, nil
	}
	var m Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return m.Plan, nil
}

func isBlank(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeMemory converts the wire blob into a typed state. On a protocol violation the
// returned state is already the safe state to resume from and err says what was wrong.
func decodeMemory(raw json.RawMessage) (state, int, error) {
	if isBlank(raw) {
		return planningState{}, 0, nil
	}
	var m Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return planningState{}, 0, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	iter := m.IterationCount
	if iter < 0 {
		iter = 0
	}
	phase := normalizePhase(m.CurrentPhase)
	if phase == PhasePlan {
		return planningState{}, iter, nil
	}
	// Without a plan no later phase can run, including an unknown one: the execute
	// reset needs tasks to execute, so a missing plan always restarts planning.
	if m.Plan == nil {
		return planningState{}, iter, fmt.Errorf("%w (phase %q)", ErrMissingPlan, phase)
	}
	plan := m.Plan.clone()

	switch phase {
	case PhaseAwaitingAnswers:
		questions := cloneStrings(m.AllQuestions)
		if len(questions) == 0 {
			questions = cloneStrings(plan.Questions)
		}
		if len(questions) == 0 {
			return executingState{plan: ensureTasks(plan)}, iter, fmt.Errorf("%w: awaiting answers without questions", ErrMalformedState)
		}
		index := m.QuestionIndex
		if index < 0 || index >= len(questions) {
			index = len(questions) - 1
		}
		return clarifyingState{plan: plan, questions: questions, index: index, answers: cloneStrings(m.Answers)}, iter, nil
	case PhaseExecute:
		if len(plan.Tasks) == 0 {
			return executingState{plan: ensureTasks(plan)}, iter, fmt.Errorf("%w: execute without tasks", ErrMalformedState)
		}
		return executingState{plan: plan}, iter, nil
	case PhaseReview:
		return reviewingState{plan: plan}, iter, nil
	case PhasePostprocess:
		return postprocessingState{plan: plan}, iter, nil
	case PhaseComplete:
		return completeState{plan: &plan}, iter, nil
	}
	return executingState{plan: ensureTasks(plan)}, iter, fmt.Errorf("%w %q", ErrUnknownPhase, m.CurrentPhase)
}

func encodeMemory(st state, iter int) json.RawMessage {
	m := Memory{CurrentPhase: st.phase(), IterationCount: iter}
	switch s := st.(type) {
	case clarifyingState:
		p := s.plan.clone()
		m.Plan = &p
		m.AllQuestions = cloneStrings(s.questions)
		m.QuestionIndex = s.index
		m.Answers = cloneStrings(s.answers)
	case executingState:
		p := s.plan.clone()
		m.Plan = &p
	case reviewingState:
		p := s.plan.clone()
		m.Plan = &p
	case postprocessingState:
		p := s.plan.clone()
		m.Plan = &p
	case completeState:
		if s.plan != nil {
			p := s.plan.clone()
			m.Plan = &p
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		// Memory holds only strings, ints and bools.
		panic(err)
	}
	return data
}

// planOf returns the plan a state carries, if any.
func planOf(st state) *Plan {
	var p Plan
	switch s := st.(type) {
	case clarifyingState:
		p = s.plan
	case executingState:
		p = s.plan
	case reviewingState:
		p = s.plan
	case postprocessingState:
		p = s.plan
	case completeState:
		if s.plan == nil {
			return nil
		}
		p = *s.plan
	default:
		return nil
	}
	out := p.clone()
	return &out
}
