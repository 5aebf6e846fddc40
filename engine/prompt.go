package engine

import (
	"fmt"
	"strings"

	"auto_doc_writer/generator"
)

const previewChars = 300

// Prompt 表示发送给 LLM 的消息集合。History holds prior turns sent between the system
// message and the final user message.
type Prompt struct {
	System  string
	User    string
	History []generator.Message
}

// Messages flattens the prompt into the provider message list.
func (p Prompt) Messages() []generator.Message {
	msgs := make([]generator.Message, 0, len(p.History)+2)
	msgs = append(msgs, generator.Message{Role: "system", Content: p.System})
	msgs = append(msgs, p.History...)
	msgs = append(msgs, generator.Message{Role: "user", Content: p.User})
	return msgs
}

const jsonOnly = "Respond with a single JSON object and nothing else. Do not wrap it in prose."

// BuildPlanPrompt 生成规划提示词。
func BuildPlanPrompt(instruction string) Prompt {
	var sb strings.Builder
	sb.WriteString(generator.ModeMarker + "plan\n")
	sb.WriteString("You are a document planner. Turn the user's request into a writing plan.\n")
	sb.WriteString("Return JSON with these fields:\n")
	sb.WriteString(`- "hasQuestions": true only if the request is too vague to plan without asking the user.` + "\n")
	sb.WriteString(`- "questions": up to 4 short clarifying questions when hasQuestions is true.` + "\n")
	sb.WriteString(`- "variables": {"topic","targetLength","documentType","audience","tone"} as free text.` + "\n")
	sb.WriteString(`- "suggestedTitle": a concise document title.` + "\n")
	sb.WriteString(`- "requiredSections": ordered, distinct, descriptive section names. Never use placeholders like "Section 1".` + "\n")
	sb.WriteString(`- "tasks": [{"action":"create","section":"<required section>","description":"<what to write>"}], one per section.` + "\n")
	sb.WriteString(jsonOnly)

	return Prompt{
		System: sb.String(),
		User:   fmt.Sprintf("Request:\n%s", instruction),
	}
}

// BuildRefinePrompt 在用户回答澄清问题后重新规划。
func BuildRefinePrompt(plan Plan, questions, answers []string) Prompt {
	var sb strings.Builder
	sb.WriteString(generator.ModeMarker + "refine\n")
	sb.WriteString("You are a document planner. You asked the user clarifying questions; the conversation so far holds their answers.\n")
	sb.WriteString(`Return JSON with "variables", "suggestedTitle", "requiredSections" and "tasks". Do not ask more questions.` + "\n")
	sb.WriteString(jsonOnly)

	// 澄清过程按真实对话轮次回放：助手提问，用户作答。
	history := make([]generator.Message, 0, 2*len(questions)+1)
	history = append(history, generator.Message{Role: "user", Content: "Request:\n" + plan.Variables.OriginalInstruction})
	for i, q := range questions {
		answer := ""
		if i < len(answers) {
			answer = answers[i]
		}
		if answer == "" {
			answer = "(no answer)"
		}
		history = append(history,
			generator.Message{Role: "assistant", Content: q},
			generator.Message{Role: "user", Content: answer},
		)
	}

	return Prompt{
		System:  sb.String(),
		User:    "Produce the final plan from the request and the answers above.",
		History: history,
	}
}

// BuildExecutePrompt asks for the edits of exactly one task.
func BuildExecutePrompt(plan Plan, sections []Section, task Task, substantial, words int) Prompt {
	var sb strings.Builder
	sb.WriteString(generator.ModeMarker + "execute\n")
	sb.WriteString("You are a professional writer working through a document plan one section at a time.\n")
	sb.WriteString("Write only the section named in the task. Keep consistent terminology with existing sections.\n")
	sb.WriteString(fmt.Sprintf("- Aim for about %d words in this section.\n", words))
	sb.WriteString(`Return JSON: {"actions":[{"type":"create|update","sectionId":"<existing id, or the new section title>","content":"<markdown>"}],"message":"<one line summary>"}` + "\n")
	sb.WriteString("Use update with the section's id when the section already exists, create with its title otherwise.\n")
	sb.WriteString(jsonOnly)

	var user strings.Builder
	writeVariables(&user, plan.Variables)
	user.WriteString(fmt.Sprintf("Progress: %d of %d required sections are substantial.\n\n", substantial, requiredTotal(plan)))
	user.WriteString("Current sections:\n")
	if len(sections) == 0 {
		user.WriteString("(none yet)\n")
	}
	for _, s := range sections {
		user.WriteString(fmt.Sprintf("--- id=%s title=%q ---\n%s\n", s.ID, s.Title, s.Content))
	}
	user.WriteString("\n")
	user.WriteString(generator.TaskMarker + task.Section + "\n")
	user.WriteString(fmt.Sprintf("Task: %s %q: %s\n", task.Action, task.Section, task.Description))

	return Prompt{System: sb.String(), User: user.String()}
}

// BuildReviewPrompt asks for a completeness verdict over truncated previews.
func BuildReviewPrompt(plan Plan, instruction string, sections []Section) Prompt {
	var sb strings.Builder
	sb.WriteString(generator.ModeMarker + "review\n")
	sb.WriteString("You are an editor reviewing a draft against the original request.\n")
	sb.WriteString(`Return JSON: {"quality":"excellent|good|fair|poor","isComplete":true|false,"message":"<feedback>","nextTasks":[{"action":"create|update","section":"<name>","description":"<what to fix>"}]}` + "\n")
	sb.WriteString("Only list nextTasks for real gaps: missing sections or clearly underdeveloped ones.\n")
	sb.WriteString(jsonOnly)

	var user strings.Builder
	user.WriteString("Original request:\n")
	user.WriteString(instruction)
	user.WriteString("\n\n")
	writeVariables(&user, plan.Variables)
	if len(plan.RequiredSections) > 0 {
		user.WriteString("Required sections: " + strings.Join(plan.RequiredSections, ", ") + "\n\n")
	}
	user.WriteString("Sections:\n")
	for _, s := range sections {
		user.WriteString(fmt.Sprintf("- %q (%d chars): %s\n", s.Title, contentLength(s.Content), preview(s.Content, previewChars)))
	}

	return Prompt{System: sb.String(), User: user.String()}
}

// BuildPostprocessPrompt 请求细微的润色：句长变化、过渡、用词，不改动实质内容。
func BuildPostprocessPrompt(sections []Section) Prompt {
	var sb strings.Builder
	sb.WriteString(generator.ModeMarker + "postprocess\n")
	sb.WriteString("You are a copy editor making the text read naturally.\n")
	sb.WriteString("- Vary sentence length.\n")
	sb.WriteString("- Smooth transitions between paragraphs.\n")
	sb.WriteString("- Replace repetitive or stiff vocabulary.\n")
	sb.WriteString("- Do not add, remove or reorder facts, headings or sections.\n")
	sb.WriteString(`Return JSON: {"actions":[{"type":"update","sectionId":"<id>","content":"<full revised section>"}],"message":"<summary>"}. Omit sections that need no change.` + "\n")
	sb.WriteString(jsonOnly)

	var user strings.Builder
	for _, s := range sections {
		user.WriteString(fmt.Sprintf("--- id=%s title=%q ---\n%s\n", s.ID, s.Title, s.Content))
	}
	return Prompt{System: sb.String(), User: user.String()}
}

func writeVariables(sb *strings.Builder, v Variables) {
	fields := []struct{ name, value string }{
		{"Topic", v.Topic},
		{"Target length", v.TargetLength},
		{"Document type", v.DocumentType},
		{"Audience", v.Audience},
		{"Tone", v.Tone},
		{"Original request", v.OriginalInstruction},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.name, f.value))
	}
	sb.WriteString("\n")
}

func preview(s string, limit int) string {
	compact := strings.Join(strings.Fields(s), " ")
	r := []rune(compact)
	if len(r) <= limit {
		return compact
	}
	return string(r[:limit]) + "..."
}
