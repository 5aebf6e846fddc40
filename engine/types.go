package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase is one state of the document state machine.
type Phase string

const (
	PhasePlan            Phase = "plan"
	PhaseAwaitingAnswers Phase = "awaiting_answers"
	PhaseExecute         Phase = "execute"
	PhaseReview          Phase = "review"
	PhasePostprocess     Phase = "postprocess"
	PhaseComplete        Phase = "complete"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
)

// Section 是调用方提供的文档段落，ID 唯一。
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Variables holds the free-text attributes extracted while planning.
type Variables struct {
	Topic               string `json:"topic,omitempty"`
	TargetLength        string `json:"targetLength,omitempty"`
	DocumentType        string `json:"documentType,omitempty"`
	Audience            string `json:"audience,omitempty"`
	Tone                string `json:"tone,omitempty"`
	OriginalInstruction string `json:"originalInstruction,omitempty"`
}

// UnmarshalJSON accepts numbers and booleans for any field; models often answer
// "targetLength": 2 instead of "2 pages".
func (v *Variables) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get := func(key string) string {
		val, ok := raw[key]
		if !ok || val == nil {
			return ""
		}
		if s, ok := val.(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprint(val)
	}
	*v = Variables{
		Topic:               get("topic"),
		TargetLength:        get("targetLength"),
		DocumentType:        get("documentType"),
		Audience:            get("audience"),
		Tone:                get("tone"),
		OriginalInstruction: get("originalInstruction"),
	}
	return nil
}

// Task is one unit of writing work tied to a single section.
type Task struct {
	Action      ActionType `json:"action"`
	Section     string     `json:"section"`
	Description string     `json:"description"`
	Done        bool       `json:"done"`
}

type Plan struct {
	Variables        Variables `json:"variables"`
	Questions        []string  `json:"questions,omitempty"`
	SuggestedTitle   string    `json:"suggestedTitle,omitempty"`
	RequiredSections []string  `json:"requiredSections"`
	Tasks            []Task    `json:"tasks"`
}

// Action is an edit the caller applies to its section store: update addresses an
// existing section id, create addresses a new section title.
type Action struct {
	Type      ActionType `json:"type"`
	SectionID string     `json:"sectionId"`
	Content   string     `json:"content"`
}

// Request is one advance call.
type Request struct {
	Instruction    string          `json:"instruction"`
	Sections       []Section       `json:"sections"`
	Memory         json.RawMessage `json:"memory,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	IterationCount int             `json:"iterationCount,omitempty"`
}

type Result struct {
	Phase           Phase           `json:"phase"`
	Actions         []Action        `json:"actions"`
	Message         string          `json:"message"`
	ProgressMessage string          `json:"progressMessage,omitempty"`
	Memory          json.RawMessage `json:"memory"`
	Confidence      Confidence      `json:"confidence"`
	SuggestedTitle  string          `json:"suggestedTitle,omitempty"`
	IsComplete      bool            `json:"isComplete"`
	ShouldContinue  bool            `json:"shouldContinue"`
	Plan            *Plan           `json:"plan,omitempty"`
	IterationCount  int             `json:"iterationCount"`
}

func (p Plan) clone() Plan {
	out := p
	out.Questions = cloneStrings(p.Questions)
	out.RequiredSections = cloneStrings(p.RequiredSections)
	out.Tasks = cloneTasks(p.Tasks)
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneTasks(tasks []Task) []Task {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// firstPending returns the index of the first task not yet done, or -1.
func firstPending(tasks []Task) int {
	for i, t := range tasks {
		if !t.Done {
			return i
		}
	}
	return -1
}

func countDone(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if t.Done {
			n++
		}
	}
	return n
}
