// Package retrieval chunks a session's anonymized document and ranks the
// chunks against chat questions with TF-IDF cosine similarity. Indexes live
// in memory and are dropped with their session.
package retrieval

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
	DefaultTopK         = 3
)

// Chunk is a contiguous excerpt of a document, offsets in runes.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// Split cuts text into chunks of at most size runes that overlap by overlap
// runes, breaking on whitespace where one is available.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		if end < len(runes) {
			if cut := lastSpace(runes[start:end]); cut > overlap {
				end = start + cut
			}
		}
		if content := strings.TrimSpace(string(runes[start:end])); content != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end, Text: content})
		}
		if end >= len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
