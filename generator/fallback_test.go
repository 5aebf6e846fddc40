package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type call struct {
	provider string
	model    string
}

func recordingClient(provider string, calls *[]call, respond func(model string) (string, error)) LLMClient {
	return FuncLLM(func(_ context.Context, req Request) (string, error) {
		*calls = append(*calls, call{provider: provider, model: req.Model})
		return respond(req.Model)
	})
}

func TestGenerateShortCircuitsOnFirstSuccess(t *testing.T) {
	var calls []call
	failing := recordingClient("a", &calls, func(string) (string, error) { return "", ErrRateLimited })
	ok := recordingClient("b", &calls, func(model string) (string, error) {
		if model == "m2" {
			return "", errors.New("boom")
		}
		return "hello from " + model, nil
	})
	g, err := NewFallbackGenerator([]Endpoint{
		{ID: "a", Client: failing, Models: []string{"m1", "m2"}},
		{ID: "b", Client: ok, Models: []string{"m2", "m3", "m4"}},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := g.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 100)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Content != "hello from m3" || got.ProviderID != "b" || got.ModelID != "m3" {
		t.Fatalf("unexpected completion: %+v", got)
	}
	want := []call{{"a", "m1"}, {"a", "m2"}, {"b", "m2"}, {"b", "m3"}}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: expected %v, got %v", i, want[i], calls[i])
		}
	}
}

func TestGenerateTreatsEmptyContentAsFailure(t *testing.T) {
	var calls []call
	empty := recordingClient("a", &calls, func(string) (string, error) { return "", nil })
	secondary := recordingClient("s", &calls, func(string) (string, error) { return "rescued", nil })
	g, err := NewFallbackGenerator(
		[]Endpoint{{ID: "a", Client: empty, Models: []string{"m1"}}},
		&Secondary{ID: "s", Client: secondary, Model: "deepseek-chat"},
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := g.Generate(context.Background(), nil, 0, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.ProviderID != "s" || got.ModelID != "deepseek-chat" || got.Content != "rescued" {
		t.Fatalf("expected secondary completion, got %+v", got)
	}
}

func TestGenerateTreatsWhitespaceContentAsFailure(t *testing.T) {
	var calls []call
	blank := recordingClient("a", &calls, func(string) (string, error) { return "  \n ", nil })
	ok := recordingClient("b", &calls, func(string) (string, error) { return "real answer", nil })
	g, err := NewFallbackGenerator([]Endpoint{
		{ID: "a", Client: blank, Models: []string{"m1"}},
		{ID: "b", Client: ok, Models: []string{"m2"}},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := g.Generate(context.Background(), nil, 0, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.ProviderID != "b" || got.Content != "real answer" || len(calls) != 2 {
		t.Fatalf("expected whitespace answer to be skipped, got %+v after %v", got, calls)
	}

	var final *Completion
	for chunk := range g.GenerateStream(context.Background(), nil, 0, 0) {
		if chunk.Final != nil {
			final = chunk.Final
		}
	}
	if final == nil || final.ProviderID != "b" {
		t.Fatalf("expected streamed whitespace answer to be skipped, got %+v", final)
	}
}

func TestGenerateRequestTimeoutMovesToNextProvider(t *testing.T) {
	hanging := FuncLLM(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	secondary := FuncLLM(func(ctx context.Context, _ Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "fine", nil
	})
	g, err := NewFallbackGenerator(
		[]Endpoint{{ID: "slow", Client: hanging, Models: []string{"m1"}}},
		&Secondary{ID: "s", Client: secondary, Model: "backup"},
		WithRequestTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	start := time.Now()
	got, err := g.Generate(context.Background(), nil, 0, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.ProviderID != "s" || got.Content != "fine" {
		t.Fatalf("expected secondary completion, got %+v", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not applied, took %s", elapsed)
	}
}

func TestGenerateFailsHardAfterSecondary(t *testing.T) {
	var calls []call
	fail := func(string) (string, error) { return "", ErrUnavailable }
	g, err := NewFallbackGenerator(
		[]Endpoint{{ID: "a", Client: recordingClient("a", &calls, fail), Models: []string{"m1", "m2"}}},
		&Secondary{ID: "s", Client: recordingClient("s", &calls, func(string) (string, error) {
			return "", errors.New("secondary down")
		}), Model: "x"},
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = g.Generate(context.Background(), nil, 0, 0)
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "secondary down") {
		t.Fatalf("expected secondary error to be wrapped, got %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected every pair plus one secondary call, got %v", calls)
	}
}

func TestNewFallbackGeneratorValidates(t *testing.T) {
	if _, err := NewFallbackGenerator(nil, nil); err == nil {
		t.Fatalf("expected error without providers")
	}
	if _, err := NewFallbackGenerator([]Endpoint{{ID: "a", Client: MockLLM{}}}, nil); err == nil {
		t.Fatalf("expected error without models")
	}
	if _, err := NewFallbackGenerator(nil, &Secondary{ID: "s", Client: MockLLM{}}); err == nil {
		t.Fatalf("expected error without secondary model")
	}
}

// flakyStreamer emits part of a response and then fails.
type flakyStreamer struct{}

func (flakyStreamer) Complete(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

func (flakyStreamer) Stream(_ context.Context, _ Request, onDelta func(string)) (string, error) {
	onDelta("partial ")
	onDelta("garbage")
	return "", ErrUnavailable
}

func TestGenerateStreamDiscardsFailedPairTokens(t *testing.T) {
	winner := FuncLLM(func(context.Context, Request) (string, error) { return "good answer", nil })
	g, err := NewFallbackGenerator([]Endpoint{
		{ID: "flaky", Client: flakyStreamer{}, Models: []string{"m1"}},
		{ID: "ok", Client: winner, Models: []string{"m2"}},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var kept []string
	var final *Completion
	resets := 0
	for chunk := range g.GenerateStream(context.Background(), nil, 0, 0) {
		switch {
		case chunk.Err != nil:
			t.Fatalf("unexpected error: %v", chunk.Err)
		case chunk.Reset:
			resets++
			kept = nil
		case chunk.Final != nil:
			final = chunk.Final
		default:
			kept = append(kept, chunk.Delta)
		}
	}
	if resets != 1 {
		t.Fatalf("expected one reset, got %d", resets)
	}
	if strings.Join(kept, "") != "good answer" {
		t.Fatalf("expected only winning tokens, got %q", strings.Join(kept, ""))
	}
	if final == nil || final.ProviderID != "ok" || final.Content != "good answer" {
		t.Fatalf("unexpected final: %+v", final)
	}
}

func TestGenerateStreamReportsHardFailure(t *testing.T) {
	g, err := NewFallbackGenerator(nil, &Secondary{ID: "s", Client: flakyStreamer{}, Model: "x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var last StreamChunk
	for chunk := range g.GenerateStream(context.Background(), nil, 0, 0) {
		last = chunk
	}
	if !errors.Is(last.Err, ErrAllProvidersFailed) {
		t.Fatalf("expected terminal error chunk, got %+v", last)
	}
}
