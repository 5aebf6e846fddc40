package generator

import (
	"testing"
)

type verdict struct {
	Quality    string `json:"quality"`
	IsComplete bool   `json:"isComplete"`
}

func TestRecoverDirectJSON(t *testing.T) {
	got, ok := Recover(nil, `{"quality":"good","isComplete":true}`, verdict{})
	if !ok || got.Quality != "good" || !got.IsComplete {
		t.Fatalf("unexpected: %+v ok=%v", got, ok)
	}
}

func TestRecoverFencedMatchesUnwrapped(t *testing.T) {
	payload := `{"quality":"fair","isComplete":false}`
	wrapped := "Here is my verdict:\n\n```json\n" + payload + "\n```\nLet me know if you need more."
	direct, ok1 := Recover(nil, payload, verdict{})
	fenced, ok2 := Recover(nil, wrapped, verdict{})
	if !ok1 || !ok2 {
		t.Fatalf("expected both to parse: %v %v", ok1, ok2)
	}
	if direct != fenced {
		t.Fatalf("expected identical results, got %+v vs %+v", direct, fenced)
	}
}

func TestRecoverSkipsNonJSONFences(t *testing.T) {
	raw := "```go\nfmt.Println(1)\n```\n\n```\n{\"quality\":\"ok\"}\n```"
	got, ok := Recover(nil, raw, verdict{Quality: "fallback"})
	if !ok || got.Quality != "ok" {
		t.Fatalf("expected second fence to win, got %+v ok=%v", got, ok)
	}
}

func TestRecoverReturnsFallback(t *testing.T) {
	fallback := verdict{Quality: "unknown", IsComplete: true}
	for _, raw := range []string{"", "null", "I could not do that.", "```json\n{broken\n```"} {
		got, ok := Recover(nil, raw, fallback)
		if ok || got != fallback {
			t.Fatalf("raw %q: expected fallback, got %+v ok=%v", raw, got, ok)
		}
	}
}

func TestFencedBlocksOrder(t *testing.T) {
	blocks := FencedBlocks("a\n```\none\n```\ntext\n~~~json\ntwo\n~~~\n")
	if len(blocks) != 2 || blocks[0] != "one\n" || blocks[1] != "two\n" {
		t.Fatalf("unexpected blocks: %q", blocks)
	}
}
