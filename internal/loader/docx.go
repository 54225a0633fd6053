package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/document"
)

// ErrMissingDocumentXML is returned for archives without word/document.xml.
var ErrMissingDocumentXML = errors.New("word/document.xml not found")

// DOCXReader extracts paragraph text from Office Open XML documents.
// Paragraphs are separated by blank lines.
type DOCXReader struct{}

func (r *DOCXReader) Read(_ context.Context, path string, meta map[string]any) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening docx: %w", err)
	}
	defer zr.Close()

	var body []byte
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			if body, err = readZipFile(f); err != nil {
				return "", err
			}
		case "docProps/core.xml":
			if raw, err := readZipFile(f); err == nil {
				var core coreProps
				if xml.Unmarshal(raw, &core) == nil && strings.TrimSpace(core.Title) != "" {
					meta[document.MetaTitle] = strings.TrimSpace(core.Title)
				}
			}
		}
	}
	if body == nil {
		return "", ErrMissingDocumentXML
	}

	var doc wordDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parsing document.xml: %w", err)
	}

	paragraphs := make([]string, 0, len(doc.Body.Paragraphs))
	for _, p := range doc.Body.Paragraphs {
		var b strings.Builder
		for _, run := range p.Runs {
			for _, t := range run.Text {
				b.WriteString(t.Content)
			}
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type wordDocument struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
	} `xml:"body"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []wordText `xml:"t"`
}

type wordText struct {
	Content string `xml:",chardata"`
}

type coreProps struct {
	Title string `xml:"title"`
}
