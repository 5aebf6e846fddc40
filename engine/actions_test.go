package engine

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestNormalizeActions(t *testing.T) {
	sections := []Section{{ID: "id-1", Title: "Intro"}, {ID: "id-2", Title: "Body"}}
	got := normalizeActions([]Action{
		{Type: ActionUpdate, SectionID: "id-1", Content: "a"},
		{Type: ActionUpdate, SectionID: "body", Content: "b"},
		{Type: ActionUpdate, SectionID: "Missing", Content: "c"},
		{Type: ActionCreate, SectionID: "Intro", Content: "d"},
		{Type: ActionCreate, SectionID: "", Content: "e"},
		{Type: ActionCreate, SectionID: "Empty", Content: "  "},
	}, sections, "Fallback")
	want := []Action{
		{Type: ActionUpdate, SectionID: "id-1", Content: "a"},
		{Type: ActionUpdate, SectionID: "id-2", Content: "b"},
		{Type: ActionCreate, SectionID: "Missing", Content: "c"},
		{Type: ActionUpdate, SectionID: "id-1", Content: "d"},
		{Type: ActionCreate, SectionID: "Fallback", Content: "e"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d actions, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("action %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestHumanizeEditsRejectsRewrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	original := strings.Repeat("The lamp turns slowly at night. ", 10)
	light := strings.Replace(original, "slowly", "steadily", 1)
	sections := []Section{{ID: "a", Title: "Lamp", Content: original}, {ID: "b", Title: "Other", Content: original}}

	got := humanizeEdits(logger, []Action{
		{Type: ActionUpdate, SectionID: "a", Content: light},
		{Type: ActionUpdate, SectionID: "b", Content: "Completely different text about something else."},
		{Type: ActionCreate, SectionID: "New", Content: "new section"},
		{Type: ActionUpdate, SectionID: "Other", Content: original},
	}, sections)
	if len(got) != 1 || got[0].SectionID != "a" || got[0].Type != ActionUpdate {
		t.Fatalf("expected only the light edit, got %+v", got)
	}
}
