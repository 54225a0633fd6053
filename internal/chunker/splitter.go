// Package chunker splits document text into overlapping, boundary-aware chunks.
package chunker

import (
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

// DefaultSeparators returns the boundary markers in preference order:
// paragraph break, line break, sentence end, word break.
// Text with none of them left is cut at the character limit.
func DefaultSeparators() []string {
	return []string{"\n\n", "\n", ". ", " "}
}

// Config configures a Splitter. Sizes are measured in characters (runes).
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators overrides DefaultSeparators when non-empty.
	Separators []string
}

// Splitter is a recursive character splitter.
//
// Text is first broken on the most preferred separator it contains; any piece
// that is still too large is broken again on the next separator, down to a hard
// cut. Separators stay attached to the preceding piece, so the pieces always
// concatenate back to the original text. Pieces are then packed greedily into
// chunks, and every chunk after the first starts with the last ChunkOverlap
// characters of the chunk before it. Chunks are therefore contiguous
// substrings of the input and never longer than ChunkSize.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New validates cfg and returns a Splitter.
func New(cfg Config) (*Splitter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, errdefs.Configuration("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 {
		return nil, errdefs.Configuration("chunk_overlap must not be negative, got %d", cfg.ChunkOverlap)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, errdefs.Configuration("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			cfg.ChunkOverlap, cfg.ChunkSize)
	}

	separators := cfg.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators()
	}
	for _, sep := range separators {
		if sep == "" {
			return nil, errdefs.Configuration("separators must not be empty strings")
		}
	}

	return &Splitter{
		size:       cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		separators: separators,
	}, nil
}

// ChunkSize returns the maximum chunk length in characters.
func (s *Splitter) ChunkSize() int { return s.size }

// ChunkOverlap returns the number of characters shared by consecutive chunks.
func (s *Splitter) ChunkOverlap() int { return s.overlap }

// Split breaks doc into chunks. Each chunk inherits doc's metadata and gets
// chunk_index (0-based), chunk_size and a stable ID derived from source_path.
func (s *Splitter) Split(doc document.Document) []document.Chunk {
	texts := s.SplitText(doc.Content)
	if len(texts) == 0 {
		return nil
	}

	source := doc.SourcePath()
	chunks := make([]document.Chunk, 0, len(texts))
	for i, text := range texts {
		metadata := maps.Clone(doc.Metadata)
		if metadata == nil {
			metadata = make(map[string]any, 2)
		}
		metadata[document.MetaChunkIndex] = i
		metadata[document.MetaChunkSize] = utf8.RuneCountInString(text)

		chunks = append(chunks, document.Chunk{
			ID:       document.ChunkID(source, i),
			Content:  text,
			Metadata: metadata,
		})
	}
	return chunks
}

// SplitText breaks text into chunk contents.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= s.size {
		return []string{text}
	}

	// Every piece must still fit once the overlap prefix is added.
	pieces := s.splitRecursive(text, s.separators, s.size-s.overlap)
	return s.merge(pieces)
}

func (s *Splitter) splitRecursive(text string, separators []string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	for i, sep := range separators {
		if !strings.Contains(text, sep) {
			continue
		}

		var pieces []string
		for _, part := range splitKeepSeparator(text, sep) {
			if utf8.RuneCountInString(part) <= limit {
				pieces = append(pieces, part)
				continue
			}
			pieces = append(pieces, s.splitRecursive(part, separators[i+1:], limit)...)
		}
		return pieces
	}

	return hardCut(text, limit)
}

// merge packs pieces into chunks of at most s.size characters, prefixing each
// chunk after the first with the trailing overlap of its predecessor.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks []string
		b      strings.Builder
	)

	for i := 0; i < len(pieces); {
		b.Reset()
		length := 0

		if len(chunks) > 0 && s.overlap > 0 {
			tail := lastRunes(chunks[len(chunks)-1], s.overlap)
			b.WriteString(tail)
			length = utf8.RuneCountInString(tail)
		}

		added := 0
		for i < len(pieces) {
			n := utf8.RuneCountInString(pieces[i])
			if added > 0 && length+n > s.size {
				break
			}
			b.WriteString(pieces[i])
			length += n
			added++
			i++
		}

		chunks = append(chunks, b.String())
	}

	return chunks
}

// splitKeepSeparator splits text after every occurrence of sep, keeping sep
// at the end of the preceding part.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// hardCut splits text into pieces of at most limit runes.
func hardCut(text string, limit int) []string {
	runes := []rune(text)
	pieces := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// lastRunes returns the last n runes of text, or text itself when shorter.
func lastRunes(text string, n int) string {
	count := utf8.RuneCountInString(text)
	if count <= n {
		return text
	}
	offset := 0
	for skip := count - n; skip > 0; skip-- {
		_, size := utf8.DecodeRuneInString(text[offset:])
		offset += size
	}
	return text[offset:]
}
