// Package watcher re-ingests documents when they change on disk.
//
// A Watcher observes the documents directory recursively with fsnotify.
// Created or modified files with a supported extension are collected and,
// once no further event has arrived for the debounce interval, ingested one
// by one. Failures the pipeline marks as retryable are retried with
// exponential backoff; other failures are logged and the file is skipped
// until its next change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period before changed files are ingested.
const DefaultDebounce = 2 * time.Second

// Ingester ingests a single file.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (pipeline.IngestReport, error)
}

// RetryConfig bounds the retries of a retryable ingest failure.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryConfig returns the retry policy used when none is set.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		MaxRetries:      8,
	}
}

// Config configures a Watcher.
type Config struct {
	// Dir is the documents directory.
	Dir string
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// Supported reports whether a file can be ingested.
	Supported func(path string) bool
	// Retry defaults to DefaultRetryConfig.
	Retry  *RetryConfig
	Logger *zap.Logger
	// OnIngested is called after each file is processed, with the final
	// error if any.
	OnIngested func(path string, report pipeline.IngestReport, err error)
}

// Watcher watches a directory tree and re-ingests changed documents.
type Watcher struct {
	ingester Ingester
	cfg      Config
	retry    RetryConfig
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	ready    chan struct{}

	mu      sync.Mutex
	pending map[string]time.Time
}

// New creates a Watcher. Run starts it.
func New(ingester Ingester, cfg Config) (*Watcher, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if cfg.Dir == "" {
		return nil, errdefs.Configuration("documents.path is not set")
	}
	if cfg.Supported == nil {
		return nil, fmt.Errorf("supported file filter is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		ingester: ingester,
		cfg:      cfg,
		retry:    retry,
		fsw:      fsw,
		logger:   cfg.Logger.Named("watcher"),
		ready:    make(chan struct{}),
		pending:  make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addTree(w.cfg.Dir, false); err != nil {
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info("watching documents directory",
		zap.String("path", w.cfg.Dir),
		zap.Duration("debounce", w.cfg.Debounce),
	)
	close(w.ready)

	timer := time.NewTimer(w.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))

		case <-timer.C:
			if wait := w.flush(ctx); wait > 0 {
				timer.Reset(wait)
			}
		}
	}
}

// Ready is closed once the directory tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// handle records a relevant event and reports whether one was recorded.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if hidden(event.Name) {
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Removed again before we looked.
		return false
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return true
		}
		return false
	}
	if !w.cfg.Supported(event.Name) {
		return false
	}

	w.mark(event.Name)
	w.logger.Debug("document changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	return true
}

func (w *Watcher) mark(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// addTree watches dir and its non-hidden subdirectories. With markFiles,
// supported files already inside are queued; a directory moved into the
// tree produces no events for its contents.
func (w *Watcher) addTree(dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if markFiles && w.cfg.Supported(path) {
			w.mark(path)
		}
		return nil
	})
}

// flush ingests the files that have been quiet for the debounce interval
// and returns how long to wait for the rest.
func (w *Watcher) flush(ctx context.Context) time.Duration {
	now := time.Now()
	var (
		ready []string
		wait  time.Duration
	)

	w.mu.Lock()
	for path, last := range w.pending {
		if remaining := w.cfg.Debounce - now.Sub(last); remaining > 0 {
			if wait == 0 || remaining < wait {
				wait = remaining
			}
			continue
		}
		ready = append(ready, path)
		delete(w.pending, path)
	}
	w.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if ctx.Err() != nil {
			return 0
		}
		w.ingest(ctx, path)
	}
	return wait
}

// ingest runs one file through the pipeline, retrying retryable failures.
func (w *Watcher) ingest(ctx context.Context, path string) {
	var (
		report   pipeline.IngestReport
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		report, err = w.ingester.Ingest(ctx, pipeline.IngestRequest{FilePath: path})
		if err != nil && !errdefs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("ingest failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(w.newBackOff(), ctx), notify)
	switch {
	case err == nil:
		w.logger.Info("re-ingested document",
			zap.String("path", path),
			zap.Int("chunks", report.Chunks),
			zap.Int("attempts", attempts),
		)
	case ctx.Err() != nil:
		return
	default:
		w.logger.Error("ingest failed", zap.String("path", path), zap.Int("attempts", attempts), zap.Error(err))
	}

	if w.cfg.OnIngested != nil {
		w.cfg.OnIngested(path, report, err)
	}
}

func (w *Watcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retry.InitialInterval
	b.MaxInterval = w.retry.MaxInterval
	b.MaxElapsedTime = w.retry.MaxElapsedTime
	b.Reset()

	if w.retry.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, w.retry.MaxRetries)
	}
	return b
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
