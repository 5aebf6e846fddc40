package engine

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxHumanizeChange is the largest share of a section a humanizing pass may rewrite.
const maxHumanizeChange = 0.35

// editResponse is the payload of execute and postprocess prompts.
type editResponse struct {
	Actions []Action `json:"actions"`
	Message string   `json:"message"`
}

type sectionIndex struct {
	byID    map[string]Section
	byTitle map[string]Section
}

func indexSections(sections []Section) sectionIndex {
	idx := sectionIndex{
		byID:    make(map[string]Section, len(sections)),
		byTitle: make(map[string]Section, len(sections)),
	}
	for _, s := range sections {
		idx.byID[s.ID] = s
		key := strings.ToLower(strings.TrimSpace(s.Title))
		if _, ok := idx.byTitle[key]; !ok && key != "" {
			idx.byTitle[key] = s
		}
	}
	return idx
}

// resolve finds the existing section an action refers to, by id first and then by title.
func (idx sectionIndex) resolve(ref string) (Section, bool) {
	ref = strings.TrimSpace(ref)
	if s, ok := idx.byID[ref]; ok {
		return s, true
	}
	s, ok := idx.byTitle[strings.ToLower(ref)]
	return s, ok
}

// normalizeActions addresses every action the way the caller can apply it: existing
// sections (by id or title) become updates by id, anything else becomes a create by title.
func normalizeActions(actions []Action, sections []Section, defaultTitle string) []Action {
	idx := indexSections(sections)
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if strings.TrimSpace(a.Content) == "" {
			continue
		}
		ref := strings.TrimSpace(a.SectionID)
		if ref == "" {
			ref = defaultTitle
		}
		if s, ok := idx.resolve(ref); ok {
			out = append(out, Action{Type: ActionUpdate, SectionID: s.ID, Content: a.Content})
			continue
		}
		out = append(out, Action{Type: ActionCreate, SectionID: ref, Content: a.Content})
	}
	return out
}

// humanizeEdits keeps only light-touch updates of existing sections.
func humanizeEdits(logger *slog.Logger, actions []Action, sections []Section) []Action {
	idx := indexSections(sections)
	dmp := diffmatchpatch.New()
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		s, ok := idx.resolve(a.SectionID)
		if !ok || strings.TrimSpace(a.Content) == "" {
			continue
		}
		if a.Content == s.Content {
			continue
		}
		ratio := changeRatio(dmp, s.Content, a.Content)
		if ratio > maxHumanizeChange {
			logger.Warn("postprocess.edit_rejected", "section_id", s.ID, "change_ratio", ratio)
			continue
		}
		out = append(out, Action{Type: ActionUpdate, SectionID: s.ID, Content: a.Content})
	}
	return out
}

func changeRatio(dmp *diffmatchpatch.DiffMatchPatch, before, after string) float64 {
	diffs := dmp.DiffMain(before, after, false)
	dist := dmp.DiffLevenshtein(diffs)
	base := utf8.RuneCountInString(before)
	if base == 0 {
		return 1
	}
	return float64(dist) / float64(base)
}
