package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"auto_doc_writer/config"
	"auto_doc_writer/engine"
	"auto_doc_writer/generator"
	"auto_doc_writer/store"
)

func TestAskTrimsAnswer(t *testing.T) {
	var prompt bytes.Buffer
	got, err := ask(bufio.NewReader(strings.NewReader("  Engineers \n")), &prompt, "Who reads it?")
	if err != nil || got != "Engineers" {
		t.Fatalf("unexpected answer %q err=%v", got, err)
	}
	if prompt.String() != "Who reads it?\n> " {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
	if _, err := ask(bufio.NewReader(strings.NewReader("")), &prompt, "Q"); !errors.Is(err, store.ErrAnswerRequired) {
		t.Fatalf("expected ErrAnswerRequired, got %v", err)
	}
}

func TestBuildGeneratorWithMock(t *testing.T) {
	viper.Set("mock", true)
	t.Cleanup(func() { viper.Set("mock", false) })

	gen, err := buildGenerator(config.Default(), newLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	c, err := gen.Generate(context.Background(), []generator.Message{{Role: "system", Content: generator.ModeMarker + "review"}}, 0.2, 100)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if c.ProviderID != "mock" || !strings.Contains(c.Content, `"isComplete":true`) {
		t.Fatalf("unexpected completion %+v", c)
	}
}

func TestBuildGeneratorRequiresKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.Provider{{ID: "main", APIKeyEnv: "DOCWRITER_TEST_UNSET_KEY", Models: []string{"gpt-4o-mini"}}}
	if _, err := buildGenerator(cfg, newLogger()); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestPrintResultAndStatus(t *testing.T) {
	var out bytes.Buffer
	res := engine.Result{
		Phase:           engine.PhaseExecute,
		Message:         "Wrote Intro",
		ProgressMessage: "Writing Intro... (1/2 completed)",
		Actions:         []engine.Action{{Type: engine.ActionCreate, SectionID: "Intro", Content: "hello"}},
		Confidence:      engine.ConfidenceHigh,
		ShouldContinue:  true,
	}
	if err := printResult(&out, res); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(out.String(), "[execute] Wrote Intro") || !strings.Contains(out.String(), "create Intro (5 chars)") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	out.Reset()
	plan := &engine.Plan{Tasks: []engine.Task{{Action: "create", Section: "Intro", Done: true}, {Action: "create", Section: "Body"}}}
	if err := printStatus(&out, store.Document{Instruction: "write"}, plan); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "(untitled)") || !strings.Contains(out.String(), "Body") {
		t.Fatalf("unexpected status:\n%s", out.String())
	}

	out.Reset()
	if err := printPlanYAML(&out, plan); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(out.String(), "section: Intro") {
		t.Fatalf("unexpected yaml:\n%s", out.String())
	}
}
