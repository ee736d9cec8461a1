package retrieval

import (
	"sort"
	"sync"

	"counsel/internal/textutil"
)

// Match is a ranked chunk.
type Match struct {
	Chunk Chunk
	Score float64
}

// Index ranks the chunks of one document.
type Index struct {
	chunks  []Chunk
	vectors []*textutil.Vector
	idf     map[string]float64
}

// NewIndex chunks text and precomputes weighted vectors.
func NewIndex(text string, size, overlap int) *Index {
	chunks := Split(text, size, overlap)
	corpus := textutil.NewCorpus()
	raw := make([]*textutil.Vector, len(chunks))
	for i, chunk := range chunks {
		raw[i] = textutil.NewVector(chunk.Text)
		corpus.Add(raw[i])
	}
	idf := corpus.IDF()
	vectors := make([]*textutil.Vector, len(chunks))
	for i, v := range raw {
		vectors[i] = v.Weighted(idf)
	}
	return &Index{chunks: chunks, vectors: vectors, idf: idf}
}

// Len returns the number of chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Search returns up to k chunks with a positive score, best first, ties in
// document order.
func (ix *Index) Search(query string, k int) []Match {
	if k <= 0 {
		k = DefaultTopK
	}
	q := textutil.NewVector(query).Weighted(ix.idf)
	if q == nil {
		return nil
	}
	var matches []Match
	for i, v := range ix.vectors {
		if score := textutil.Cosine(q, v); score > 0 {
			matches = append(matches, Match{Chunk: ix.chunks[i], Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Retriever keeps one index per session.
type Retriever struct {
	size    int
	overlap int
	topK    int

	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewRetriever creates a retriever with the given chunking and result size.
func NewRetriever(size, overlap, topK int) *Retriever {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{size: size, overlap: overlap, topK: topK, indexes: make(map[string]*Index)}
}

// Index replaces the session's index with one built from text.
func (r *Retriever) Index(sessionID, text string) int {
	ix := NewIndex(text, r.size, r.overlap)
	r.mu.Lock()
	r.indexes[sessionID] = ix
	r.mu.Unlock()
	return ix.Len()
}

// Search ranks the session's chunks against query.
func (r *Retriever) Search(sessionID, query string) []Match {
	r.mu.RLock()
	ix, ok := r.indexes[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ix.Search(query, r.topK)
}

// Drop forgets the session's index.
func (r *Retriever) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.indexes, sessionID)
	r.mu.Unlock()
}

// Len returns the number of indexed sessions.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.indexes)
}
