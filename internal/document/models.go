// Package document defines the units of content that flow through ingestion.
package document

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Metadata keys attached by the loader and the chunker.
const (
	MetaSourcePath = "source_path"
	MetaFileName   = "file_name"
	MetaFileType   = "file_type"
	MetaPageCount  = "page_count"
	MetaTitle      = "title"
	MetaChunkIndex = "chunk_index"
	MetaChunkSize  = "chunk_size"
)

// Document is the text of one source file plus its metadata.
// Metadata values are scalars (string, int, float64, bool).
type Document struct {
	Content  string
	Metadata map[string]any
}

// SourcePath returns the source_path metadata value, or "" if unset.
func (d Document) SourcePath() string {
	return stringValue(d.Metadata, MetaSourcePath)
}

// Chunk is a contiguous piece of a Document's content.
type Chunk struct {
	// ID is stable for a given source path and chunk index.
	ID       string
	Content  string
	Metadata map[string]any
}

// SourcePath returns the source_path metadata value, or "" if unset.
func (c Chunk) SourcePath() string {
	return stringValue(c.Metadata, MetaSourcePath)
}

// Index returns the chunk_index metadata value, or -1 if unset.
// Values that went through a string-only store are parsed back.
func (c Chunk) Index() int {
	switch v := c.Metadata[MetaChunkIndex].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return -1
}

// chunkNamespace scopes chunk IDs so they never collide with other UUIDv5 users.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragd:chunk"))

// ChunkID returns the deterministic identifier of chunk index within source.
// Re-ingesting the same file therefore replaces its records instead of duplicating them.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", source, index))).String()
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
