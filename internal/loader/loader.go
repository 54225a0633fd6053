// Package loader reads source files into documents.
//
// Supported formats are plain text, Markdown, PDF and DOCX. Each file becomes
// exactly one document.Document whose metadata records where it came from.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/ignore"
)

var (
	// ErrUnsupportedFormat is returned for files whose extension has no reader.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNotAFile is returned when Load is given a directory.
	ErrNotAFile = errors.New("not a regular file")
)

// Reader extracts the text of one file format.
type Reader interface {
	// Read returns the file's text. Readers may add format specific metadata
	// (page_count, title) to meta.
	Read(ctx context.Context, path string, meta map[string]any) (string, error)
}

// Loader dispatches files to format readers by extension.
type Loader struct {
	readers map[string]Reader
	logger  *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithReader registers r for ext (including the leading dot), replacing any
// existing reader for it.
func WithReader(ext string, r Reader) Option {
	return func(l *Loader) {
		l.readers[strings.ToLower(ext)] = r
	}
}

// WithPDFRunner sets the command runner used to extract PDF text.
func WithPDFRunner(runner CommandRunner) Option {
	return WithReader(".pdf", NewPDFReader(runner))
}

// New creates a Loader with the built-in readers.
func New(logger *zap.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}

	text := &TextReader{}
	md := &MarkdownReader{}
	l := &Loader{
		readers: map[string]Reader{
			".txt":      text,
			".md":       md,
			".markdown": md,
			".pdf":      NewPDFReader(nil),
			".docx":     &DOCXReader{},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SupportedExtensions returns the handled extensions in sorted order.
func (l *Loader) SupportedExtensions() []string {
	exts := make([]string, 0, len(l.readers))
	for ext := range l.readers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Supports reports whether path has a handled extension.
func (l *Loader) Supports(path string) bool {
	_, ok := l.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads a single file. Failures are returned as *errdefs.LoaderError.
func (l *Loader) Load(ctx context.Context, path string) (document.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return document.Document{}, &errdefs.LoaderError{Path: path, Err: err}
	}

	ext := strings.ToLower(filepath.Ext(abs))
	reader, ok := l.readers[ext]
	if !ok {
		return document.Document{}, &errdefs.LoaderError{
			Path: abs,
			Err:  fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, ext, strings.Join(l.SupportedExtensions(), ", ")),
		}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return document.Document{}, &errdefs.LoaderError{Path: abs, Err: err}
	}
	if !info.Mode().IsRegular() {
		return document.Document{}, &errdefs.LoaderError{Path: abs, Err: ErrNotAFile}
	}

	meta := map[string]any{
		document.MetaSourcePath: abs,
		document.MetaFileName:   filepath.Base(abs),
		document.MetaFileType:   strings.TrimPrefix(ext, "."),
	}

	content, err := reader.Read(ctx, abs, meta)
	if err != nil {
		return document.Document{}, &errdefs.LoaderError{Path: abs, Err: err}
	}

	l.logger.Debug("loaded document",
		zap.String("path", abs),
		zap.Int("chars", len(content)),
	)

	return document.Document{Content: content, Metadata: meta}, nil
}

// LoadDirectory loads every supported file under dir, recursively.
// Hidden files and directories, and paths excluded by the directory's
// .ragdignore, are skipped. Files are visited in lexical order. Per-file failures are collected and never abort the walk; the
// returned error is set only when dir itself cannot be walked or ctx ends.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) ([]document.Document, []*errdefs.LoaderError, error) {
	var (
		docs     []document.Document
		failures []*errdefs.LoaderError
	)

	err := l.walk(ctx, dir, func(path string) {
		doc, err := l.Load(ctx, path)
		if err != nil {
			var le *errdefs.LoaderError
			if !errors.As(err, &le) {
				le = &errdefs.LoaderError{Path: path, Err: err}
			}
			l.logger.Warn("skipping document",
				zap.String("path", le.Path),
				zap.Error(le.Err),
			)
			failures = append(failures, le)
			return
		}
		docs = append(docs, doc)
	})
	if err != nil {
		return nil, nil, err
	}

	l.logger.Info("loaded directory",
		zap.String("dir", dir),
		zap.Int("documents", len(docs)),
		zap.Int("failed", len(failures)),
	)
	return docs, failures, nil
}

// CountFiles returns the number of supported files under dir.
func (l *Loader) CountFiles(ctx context.Context, dir string) (int, error) {
	count := 0
	err := l.walk(ctx, dir, func(string) { count++ })
	return count, err
}

// Filter returns a predicate selecting the files under root that a
// directory ingest would load. It is used to decide which file events to act on.
func (l *Loader) Filter(root string) (func(path string) bool, error) {
	excludes, err := ignore.Load(root)
	if err != nil {
		return nil, &errdefs.LoaderError{Path: filepath.Join(root, ignore.FileName), Err: err}
	}
	return func(path string) bool {
		if !l.Supports(path) {
			return false
		}
		abs, err := filepath.Abs(path)
		return err == nil && !excludes.Match(abs, false)
	}, nil
}

// walk calls fn for every supported, non-hidden, non-excluded regular file
// under dir.
func (l *Loader) walk(ctx context.Context, dir string, fn func(path string)) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &errdefs.LoaderError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &errdefs.LoaderError{Path: dir, Err: fmt.Errorf("%s is not a directory", dir)}
	}
	excludes, err := ignore.Load(dir)
	if err != nil {
		return &errdefs.LoaderError{Path: filepath.Join(dir, ignore.FileName), Err: err}
	}
	if n := excludes.Len(); n > 0 {
		l.logger.Debug("using exclude patterns", zap.String("dir", dir), zap.Int("patterns", n))
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable subtrees are skipped; the root was checked above.
			l.logger.Warn("walk error", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path != dir && (strings.HasPrefix(d.Name(), ".") || excluded(excludes, dir, path, d.IsDir())) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && l.Supports(path) {
			fn(path)
		}
		return nil
	})
}

func excluded(m *ignore.Matcher, root, path string, isDir bool) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && m.Match(rel, isDir)
}
