// Package ignore reads gitignore-style exclude files for a documents directory.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileName is the exclude file looked up in the documents directory root.
const FileName = ".ragdignore"

// pattern is one parsed exclude line.
type pattern struct {
	glob string
	// anchored patterns match the path relative to the root; others match
	// any single path element.
	anchored bool
	dirOnly  bool
}

// Matcher reports whether paths under a root are excluded.
// The zero value excludes nothing.
type Matcher struct {
	root     string
	patterns []pattern
}

// Load reads FileName from root. A missing file yields an empty Matcher.
func Load(root string) (*Matcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	m := &Matcher{root: root}

	f, err := os.Open(filepath.Join(root, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if p, ok := parseLine(scanner.Text()); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// New builds a Matcher from pattern lines, as they would appear in FileName.
// root should be absolute.
func New(root string, lines ...string) *Matcher {
	m := &Matcher{root: filepath.Clean(root)}
	for _, line := range lines {
		if p, ok := parseLine(line); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// Len returns the number of active patterns.
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// parseLine converts one exclude line. Blank lines, comments and negations
// are skipped.
func parseLine(line string) (pattern, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return pattern{}, false
	}

	var p pattern
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	line = strings.TrimPrefix(line, "**/")
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	} else if strings.Contains(line, "/") {
		p.anchored = true
	}
	if line == "" {
		return pattern{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return pattern{}, false
	}
	p.glob = line
	return p, true
}

// Match reports whether p, or any directory containing it, is excluded.
// p is either absolute or relative to the root, never relative to the
// working directory. Paths outside the root never match.
func (m *Matcher) Match(p string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}

	rel := p
	if filepath.IsAbs(p) {
		r, err := filepath.Rel(m.root, p)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}

	parts := strings.Split(rel, "/")
	for i := range parts {
		last := i == len(parts)-1
		if m.matchOne(strings.Join(parts[:i+1], "/"), parts[i], !last || isDir) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchOne(rel, name string, isDir bool) bool {
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		target := name
		if p.anchored {
			target = rel
		}
		if ok, _ := path.Match(p.glob, target); ok {
			return true
		}
	}
	return false
}
