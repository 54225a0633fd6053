package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/fyrsmithlabs/ragd/internal/document"
)

// ErrPDFToolMissing is returned when pdftotext is not installed.
var ErrPDFToolMissing = errors.New("pdftotext not found")

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPDFToolMissing, InstallInstructions())
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// PDFReader validates a PDF and counts its pages with pdfcpu, then extracts
// text with poppler's pdftotext in layout mode.
type PDFReader struct {
	runner CommandRunner
	// inspect validates the file and returns its page count.
	inspect func(path string) (int, error)
}

// NewPDFReader returns a PDFReader. A nil runner executes pdftotext from PATH.
func NewPDFReader(runner CommandRunner) *PDFReader {
	if runner == nil {
		runner = execRunner{}
	}
	return &PDFReader{runner: runner, inspect: inspectPDF}
}

func (r *PDFReader) Read(ctx context.Context, path string, meta map[string]any) (string, error) {
	pages, err := r.inspect(path)
	if err != nil {
		return "", fmt.Errorf("invalid pdf: %w", err)
	}
	meta[document.MetaPageCount] = pages

	out, err := r.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", err
	}

	// pdftotext separates pages with form feeds.
	text := strings.ReplaceAll(string(out), "\f", "\n\n")
	return strings.TrimSpace(strings.ToValidUTF8(text, "�")), nil
}

func inspectPDF(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ValidateFile(path, conf); err != nil {
		return 0, err
	}
	return api.PageCountFile(path)
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return "install poppler to enable PDF support (macOS: brew install poppler, Debian/Ubuntu: apt install poppler-utils)"
}
