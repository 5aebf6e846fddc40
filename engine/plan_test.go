package engine

import (
	"encoding/json"
	"testing"
)

func TestNormalizePlanDropsPlaceholdersAndDuplicates(t *testing.T) {
	p := normalizePlan(Plan{
		RequiredSections: []string{" Introduction ", "Section 1", "introduction", "", "Part II", "Safety Rules"},
		Tasks: []Task{
			{Action: "write", Section: "Introduction", Done: true},
			{Action: ActionUpdate, Section: " "},
		},
	}, "do it")
	want := []string{"Introduction", "Safety Rules"}
	if len(p.RequiredSections) != len(want) || p.RequiredSections[0] != want[0] || p.RequiredSections[1] != want[1] {
		t.Fatalf("unexpected sections: %v", p.RequiredSections)
	}
	if len(p.Tasks) != 1 || p.Tasks[0].Action != ActionCreate || p.Tasks[0].Done || p.Tasks[0].Description == "" {
		t.Fatalf("unexpected tasks: %+v", p.Tasks)
	}
	if p.Variables.OriginalInstruction != "do it" {
		t.Fatalf("expected original instruction, got %q", p.Variables.OriginalInstruction)
	}
}

func TestEnsureTasks(t *testing.T) {
	p := ensureTasks(Plan{RequiredSections: []string{"A", "B"}})
	if len(p.Tasks) != 2 || p.Tasks[1].Section != "B" {
		t.Fatalf("expected a task per section, got %+v", p.Tasks)
	}
	p = ensureTasks(Plan{Variables: Variables{OriginalInstruction: "write"}})
	if len(p.Tasks) != 1 || p.Tasks[0].Section != fallbackSection || p.Tasks[0].Description != "write" {
		t.Fatalf("expected fallback task, got %+v", p.Tasks)
	}
	existing := Plan{Tasks: []Task{{Section: "X"}}, RequiredSections: []string{"A"}}
	if got := ensureTasks(existing); len(got.Tasks) != 1 || got.Tasks[0].Section != "X" {
		t.Fatalf("existing tasks must be kept, got %+v", got.Tasks)
	}
}

func TestMarkDoneCopies(t *testing.T) {
	tasks := []Task{{Section: "a"}, {Section: "b"}}
	out := markDone(tasks, 1)
	if tasks[1].Done || !out[1].Done || out[0].Done {
		t.Fatalf("markDone must copy: in=%+v out=%+v", tasks, out)
	}
}

func TestWordBudget(t *testing.T) {
	three := []string{"A", "B", "C"}
	cases := []struct {
		name string
		plan Plan
		want int
	}{
		{"pages", Plan{Variables: Variables{TargetLength: "2 pages"}, RequiredSections: three}, 166},
		{"hyphenated", Plan{Variables: Variables{OriginalInstruction: "write a 4-page guide"}, RequiredSections: []string{"A", "B"}}, 500},
		{"words", Plan{Variables: Variables{TargetLength: "about 900 words"}, RequiredSections: three}, 300},
		{"tasks only", Plan{Variables: Variables{TargetLength: "1 page"}, Tasks: []Task{{Section: "x"}}}, 250},
		{"default", Plan{Variables: Variables{TargetLength: "medium"}, RequiredSections: three}, 250},
	}
	for _, tc := range cases {
		if got := wordBudget(tc.plan, 250, 250); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestVariablesAcceptScalars(t *testing.T) {
	var v Variables
	if err := json.Unmarshal([]byte(`{"topic":"tides","targetLength":3,"tone":null,"audience":true}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Topic != "tides" || v.TargetLength != "3" || v.Tone != "" || v.Audience != "true" {
		t.Fatalf("unexpected variables: %+v", v)
	}
}

func TestSubstantialCounts(t *testing.T) {
	long := make([]rune, 500)
	for i := range long {
		long[i] = 'é'
	}
	sections := []Section{{Content: string(long)}, {Content: "short"}}
	if got := countSubstantial(sections, 500); got != 1 {
		t.Fatalf("expected 1 substantial section, got %d", got)
	}
	if allSubstantial(sections, 500) {
		t.Fatalf("not all sections are substantial")
	}
	if allSubstantial(nil, 500) {
		t.Fatalf("no sections is never complete by length")
	}
}
