// Package secrets redacts credentials from document text before it is indexed.
//
// Detection uses the gitleaks default rule set. Matched secret values are
// replaced with a fixed marker so they never reach the embedding provider or
// the vector store.
package secrets

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Marker replaces every detected secret.
const Marker = "[REDACTED]"

// Finding describes one detected secret without its value.
type Finding struct {
	RuleID      string
	Description string
	Line        int
}

// Result is the outcome of a redaction pass.
type Result struct {
	Content  string
	Findings []Finding
	// ByRule counts findings per gitleaks rule ID.
	ByRule   map[string]int
	Duration time.Duration
}

// Redacted reports whether any secret was replaced.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// Redactor scans text for secrets. It is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor with the gitleaks default configuration.
func New() (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &Redactor{detector: detector}, nil
}

// Redact replaces every detected secret in content with Marker.
func (r *Redactor) Redact(content string) Result {
	start := time.Now()

	r.mu.Lock()
	found := r.detector.DetectString(content)
	r.mu.Unlock()

	result := Result{
		Content:  content,
		ByRule:   make(map[string]int),
		Findings: make([]Finding, 0, len(found)),
	}

	values := make([]string, 0, len(found))
	for _, f := range found {
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
		result.ByRule[f.RuleID]++
		if f.Secret != "" {
			values = append(values, f.Secret)
		}
	}

	// Longest first so a secret containing another is replaced whole.
	slices.SortFunc(values, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	for _, v := range slices.Compact(values) {
		result.Content = strings.ReplaceAll(result.Content, v, Marker)
	}

	result.Duration = time.Since(start)
	return result
}
