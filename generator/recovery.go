package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const recoveryLogLimit = 300

var errBlankPayload = errors.New("blank payload")

var fenceParser = goldmark.New().Parser()

// Recover 把模型输出解析为结构化数据：先整体解析，再尝试 Markdown 代码块，最后返回 fallback。
// ok reports whether the value came from the text rather than the fallback. It never fails.
func Recover[T any](logger *slog.Logger, raw string, fallback T) (value T, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if v, err := decodeJSON[T](trimmed); err == nil {
		return v, true
	}
	for _, block := range FencedBlocks(trimmed) {
		if v, err := decodeJSON[T](block); err == nil {
			return v, true
		}
	}
	if logger != nil {
		logger.Warn("recovery.fallback", "raw", truncate(trimmed, recoveryLogLimit))
	}
	return fallback, false
}

func decodeJSON[T any](s string) (T, error) {
	var v T
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return v, errBlankPayload
	}
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

// FencedBlocks returns the bodies of all fenced code blocks in md, in document order.
func FencedBlocks(md string) []string {
	src := []byte(md)
	doc := fenceParser.Parse(text.NewReader(src))
	var blocks []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var b bytes.Buffer
		lines := fcb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
		blocks = append(blocks, b.String())
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
