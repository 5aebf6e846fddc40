package publisher

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"auto_doc_writer/engine"
)

// Document is a finished (or in-progress) document ready for export.
type Document struct {
	Title    string
	Sections []engine.Section
}

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	headingLine = regexp.MustCompile(`^#{1,6}\s+`)
)

// RenderMarkdown joins the sections into one Markdown document. Sections whose content
// does not already open with a heading get their title as a level-2 heading.
func RenderMarkdown(doc Document) string {
	var b strings.Builder
	if doc.Title != "" {
		b.WriteString("# ")
		b.WriteString(doc.Title)
		b.WriteString("\n\n")
	}
	for _, s := range doc.Sections {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		if !headingLine.MatchString(content) && s.Title != "" {
			b.WriteString("## ")
			b.WriteString(s.Title)
			b.WriteString("\n\n")
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderHTML converts the document to a standalone HTML page.
func RenderHTML(doc Document) (string, error) {
	body, err := mdToHTML(RenderMarkdown(doc))
	if err != nil {
		return "", err
	}
	title := doc.Title
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(title), body), nil
}

func mdToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Digest 取正文首段（跳过标题行），不足时截取全文前 limit 个字符。
func Digest(markdown string, limit int) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return clip(line, limit)
	}
	return clip(strings.Join(strings.Fields(markdown), " "), limit)
}

func clip(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// WordCount counts whitespace-separated words across all sections.
func WordCount(doc Document) int {
	n := 0
	for _, s := range doc.Sections {
		n += len(strings.Fields(s.Content))
	}
	return n
}
