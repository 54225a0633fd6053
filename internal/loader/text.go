package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/ragd/internal/document"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextReader reads UTF-8 plain text. Invalid byte sequences are replaced.
type TextReader struct{}

func (r *TextReader) Read(_ context.Context, path string, _ map[string]any) (string, error) {
	return readText(path)
}

// MarkdownReader reads Markdown files. A leading YAML front matter block is
// removed from the content; its title, or else the first level-one heading,
// is recorded as the document title.
type MarkdownReader struct{}

func (r *MarkdownReader) Read(_ context.Context, path string, meta map[string]any) (string, error) {
	content, err := readText(path)
	if err != nil {
		return "", err
	}

	body, front, err := splitFrontMatter(content)
	if err != nil {
		return "", err
	}

	title := ""
	if t, ok := front["title"].(string); ok {
		title = strings.TrimSpace(t)
	}
	if title == "" {
		title = firstHeading(body)
	}
	if title != "" {
		meta[document.MetaTitle] = title
	}

	return body, nil
}

func readText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	return strings.ToValidUTF8(string(raw), "�"), nil
}

// splitFrontMatter separates a "---" delimited YAML header from the body.
// Content without a header is returned unchanged.
func splitFrontMatter(content string) (string, map[string]any, error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return content, nil, nil
	}

	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content, nil, nil
	}

	header := rest[:end]
	body := rest[end+len("\n---"):]
	// Drop the remainder of the closing delimiter line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	front := make(map[string]any)
	if err := yaml.Unmarshal([]byte(header), &front); err != nil {
		return "", nil, fmt.Errorf("parsing front matter: %w", err)
	}
	return strings.TrimLeft(body, "\n"), front, nil
}

func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}
