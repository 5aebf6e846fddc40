package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const fallbackSection = "Content"

// planResponse is what the planning prompt asks the model for.
type planResponse struct {
	Plan
	HasQuestions bool `json:"hasQuestions"`
}

// defaultQuestions is used when the model asks for clarification but lists nothing.
var defaultQuestions = []string{
	"What format should the document take (for example report, guide, essay, or article)?",
	"How long should the document be?",
	"Which aspects or topics should the document focus on?",
	"Who is the intended audience?",
}

var placeholderSection = regexp.MustCompile(`(?i)^(section|part|chapter|heading|title)\s*[0-9ivx]*$`)

func fallbackPlan(instruction string) planResponse {
	return planResponse{Plan: Plan{
		Variables: Variables{OriginalInstruction: instruction},
		Tasks: []Task{{
			Action:      ActionCreate,
			Section:     fallbackSection,
			Description: instruction,
		}},
	}}
}

// normalizePlan cleans what the model returned: distinct, non-placeholder sections,
// valid task actions, nothing marked done.
func normalizePlan(p Plan, instruction string) Plan {
	out := p.clone()
	if out.Variables.OriginalInstruction == "" {
		out.Variables.OriginalInstruction = instruction
	}
	out.SuggestedTitle = strings.TrimSpace(out.SuggestedTitle)

	seen := make(map[string]bool, len(out.RequiredSections))
	sections := make([]string, 0, len(out.RequiredSections))
	for _, name := range out.RequiredSections {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] || placeholderSection.MatchString(name) {
			continue
		}
		seen[key] = true
		sections = append(sections, name)
	}
	out.RequiredSections = sections
	out.Tasks = normalizeTasks(out.Tasks)
	return out
}

func normalizeTasks(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		t.Section = strings.TrimSpace(t.Section)
		if t.Section == "" {
			continue
		}
		if t.Action != ActionUpdate {
			t.Action = ActionCreate
		}
		if strings.TrimSpace(t.Description) == "" {
			t.Description = "Write the " + t.Section + " section"
		}
		t.Done = false
		out = append(out, t)
	}
	return out
}

// ensureTasks guarantees a non-empty task list, synthesizing one task per required
// section or a single whole-document task.
func ensureTasks(p Plan) Plan {
	if len(p.Tasks) > 0 {
		return p
	}
	out := p.clone()
	for _, name := range out.RequiredSections {
		out.Tasks = append(out.Tasks, Task{
			Action:      ActionCreate,
			Section:     name,
			Description: "Write the " + name + " section",
		})
	}
	if len(out.Tasks) == 0 {
		desc := out.Variables.OriginalInstruction
		if desc == "" {
			desc = "Write the document"
		}
		out.Tasks = []Task{{Action: ActionCreate, Section: fallbackSection, Description: desc}}
	}
	return out
}

// markDone returns a new task list with tasks[idx] done; the input is not modified.
func markDone(tasks []Task, idx int) []Task {
	out := cloneTasks(tasks)
	out[idx].Done = true
	return out
}

func contentLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

func countSubstantial(sections []Section, threshold int) int {
	n := 0
	for _, s := range sections {
		if contentLength(s.Content) >= threshold {
			n++
		}
	}
	return n
}

// allSubstantial reports whether there is at least one section and every section
// meets the length threshold.
func allSubstantial(sections []Section, threshold int) bool {
	return len(sections) > 0 && countSubstantial(sections, threshold) == len(sections)
}

func requiredTotal(p Plan) int {
	if n := len(p.RequiredSections); n > 0 {
		return n
	}
	if n := len(p.Tasks); n > 0 {
		return n
	}
	return 1
}

var (
	pagesPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*-?\s*pages?\b`)
	wordsPattern = regexp.MustCompile(`(?i)(\d+)\s*-?\s*words?\b`)
)

// wordBudget is the target length of one task: "N pages" at wordsPerPage, or "N words",
// split evenly across the required sections; defaultWords otherwise.
func wordBudget(p Plan, wordsPerPage, defaultWords int) int {
	for _, src := range []string{p.Variables.TargetLength, p.Variables.OriginalInstruction} {
		total := 0
		if m := pagesPattern.FindStringSubmatch(src); m != nil {
			pages, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				total = int(pages * float64(wordsPerPage))
			}
		} else if m := wordsPattern.FindStringSubmatch(src); m != nil {
			total, _ = strconv.Atoi(m[1])
		}
		if total > 0 {
			per := total / requiredTotal(p)
			if per < 1 {
				per = 1
			}
			return per
		}
	}
	return defaultWords
}

func progressMessage(section string, completed, total int) string {
	return fmt.Sprintf("Writing %s... (%d/%d completed)", section, completed+1, total)
}
