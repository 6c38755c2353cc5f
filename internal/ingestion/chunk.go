package ingestion

import (
	"strings"
	"unicode"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk splits text into pieces of at most size characters, each starting
// overlap characters before the previous one ended. A chunk boundary backs
// off to the last whitespace in the second half of the window so words are
// not cut. Empty input yields no chunks.
func Chunk(text string, size, overlap int) []string {
	r := []rune(strings.TrimSpace(text))
	if len(r) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	start := 0
	for start < len(r) {
		end := start + size
		if end >= len(r) {
			end = len(r)
		} else if cut := lastSpace(r[start+size/2 : end]); cut >= 0 {
			end = start + size/2 + cut
		}

		if piece := strings.TrimSpace(string(r[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(r) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		// Start the next chunk on a word boundary when one is close.
		for i := next; i < end && i > 0; i++ {
			if unicode.IsSpace(r[i-1]) {
				next = i
				break
			}
		}
		start = next
	}
	return out
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return -1
}
