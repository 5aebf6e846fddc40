package publisher

import (
	"strings"
	"testing"

	"auto_doc_writer/engine"
)

func sampleDoc() Document {
	return Document{
		Title: "Lighthouses",
		Sections: []engine.Section{
			{ID: "1", Title: "History", Content: "The first lighthouse stood at Pharos."},
			{ID: "2", Title: "Design", Content: "## How they work\n\n- lamp\n- lens"},
			{ID: "3", Title: "Empty", Content: "   "},
		},
	}
}

func TestRenderMarkdownAddsMissingHeadings(t *testing.T) {
	got := RenderMarkdown(sampleDoc())
	want := "# Lighthouses\n\n## History\n\nThe first lighthouse stood at Pharos.\n\n## How they work\n\n- lamp\n- lens\n"
	if got != want {
		t.Fatalf("unexpected markdown:\n%s", got)
	}
}

func TestRenderHTML(t *testing.T) {
	out, err := RenderHTML(sampleDoc())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"<title>Lighthouses</title>", "<h1>Lighthouses</h1>", "<h2>History</h2>", "<li>lamp</li>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("html missing %q:\n%s", want, out)
		}
	}
}

func TestDigestAndWordCount(t *testing.T) {
	doc := sampleDoc()
	if got := Digest(RenderMarkdown(doc), 9); got != "The first" {
		t.Fatalf("unexpected digest %q", got)
	}
	if got := WordCount(doc); got != 14 {
		t.Fatalf("expected 14 words, got %d", got)
	}
}
