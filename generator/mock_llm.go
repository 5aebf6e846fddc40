package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode markers the engine prompts carry so the offline mock can answer each phase.
const (
	ModeMarker    = "MODE: "
	TaskMarker    = "TASK SECTION: "
	mockParagraph = "This section was produced by the offline mock model so the full pipeline can be exercised without provider credentials. " +
		"It keeps sentences varied in length and stays on topic, which is enough for review to judge it substantial. "
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
// It answers with well-formed JSON for every engine phase.
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, req Request) (string, error) {
	prompt := joinMessages(req.Messages)
	switch markerValue(prompt, ModeMarker) {
	case "plan", "refine":
		return mustJSON(map[string]any{
			"hasQuestions":     false,
			"suggestedTitle":   "Draft Document",
			"variables":        map[string]string{"tone": "neutral"},
			"requiredSections": []string{"Introduction", "Main Discussion", "Conclusion"},
		}), nil
	case "execute":
		section := markerValue(prompt, TaskMarker)
		if section == "" {
			section = "Content"
		}
		content := fmt.Sprintf("## %s\n\n%s%s%s", section, mockParagraph, mockParagraph, mockParagraph)
		return "```json\n" + mustJSON(map[string]any{
			"actions": []map[string]string{{"type": "create", "sectionId": section, "content": content}},
			"message": "Drafted " + section,
		}) + "\n```", nil
	case "review":
		return mustJSON(map[string]any{"quality": "good", "isComplete": true, "message": "Looks complete", "nextTasks": []any{}}), nil
	case "postprocess":
		return mustJSON(map[string]any{"actions": []any{}, "message": "No changes needed"}), nil
	}
	// 很简单地把用户输入拼接成 Markdown。
	var sb strings.Builder
	sb.WriteString("# Mock answer\n\n")
	sb.WriteString("```\n")
	sb.WriteString(prompt)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

func (m MockLLM) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return streamWhole(ctx, m.Complete, req, onDelta)
}

// FuncLLM adapts a function to LLMClient. Stream emits the result word by word.
type FuncLLM func(ctx context.Context, req Request) (string, error)

func (f FuncLLM) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func (f FuncLLM) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return streamWhole(ctx, f, req, onDelta)
}

func streamWhole(ctx context.Context, complete func(context.Context, Request) (string, error), req Request, onDelta func(string)) (string, error) {
	content, err := complete(ctx, req)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		for _, word := range strings.SplitAfter(content, " ") {
			if word != "" {
				onDelta(word)
			}
		}
	}
	return content, nil
}

func joinMessages(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

func markerValue(prompt, marker string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker))
		}
	}
	return ""
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
