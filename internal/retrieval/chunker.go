package retrieval

import "strings"

const (
	defaultChunkSize    = 1200 // characters
	defaultChunkOverlap = 150
)

// Chunk splits a document into overlapping segments, preferring
// paragraph boundaries, then sentence boundaries, then a hard cut.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}
		cut := boundary(text[start:end])
		chunks = append(chunks, strings.TrimSpace(text[start:start+cut]))
		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// boundary finds the best split point inside a window: last blank line,
// else last sentence end, else the window edge.
func boundary(window string) int {
	if i := strings.LastIndex(window, "\n\n"); i > len(window)/2 {
		return i
	}
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if i := strings.LastIndex(window, sep); i > len(window)/2 {
			return i + len(sep)
		}
	}
	return len(window)
}
