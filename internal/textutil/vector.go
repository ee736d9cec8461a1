package textutil

import "math"

// Vector is a sparse term-weight vector used for cosine comparisons.
type Vector struct {
	terms map[string]float64
	norm  float64
}

// NewVector builds a term-frequency vector from text. It returns nil when the
// text yields no tokens.
func NewVector(text string) *Vector {
	return VectorFromTokens(Tokenize(text))
}

// VectorFromTokens builds a term-frequency vector from pre-tokenized input.
func VectorFromTokens(tokens []string) *Vector {
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newVector(counts)
}

func newVector(weights map[string]float64) *Vector {
	var sum float64
	for _, w := range weights {
		sum += w * w
	}
	if sum == 0 {
		return nil
	}
	return &Vector{terms: weights, norm: math.Sqrt(sum)}
}

// Len returns the number of distinct terms.
func (v *Vector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Weighted returns a copy with each term multiplied by its IDF weight. Terms
// absent from idf keep their raw frequency.
func (v *Vector) Weighted(idf map[string]float64) *Vector {
	if v == nil || len(idf) == 0 {
		return v
	}
	weighted := make(map[string]float64, len(v.terms))
	for term, count := range v.terms {
		w := count
		if factor, ok := idf[term]; ok {
			w *= factor
		}
		if w != 0 {
			weighted[term] = w
		}
	}
	return newVector(weighted)
}

// Cosine computes the cosine similarity of two vectors. Nil or zero-norm
// vectors compare as 0.
func Cosine(a, b *Vector) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	small, large := a, b
	if len(small.terms) > len(large.terms) {
		small, large = large, small
	}
	var dot float64
	for term, w := range small.terms {
		if other, ok := large.terms[term]; ok {
			dot += w * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}

// Corpus accumulates document frequencies for IDF weighting.
type Corpus struct {
	docs    int
	docFreq map[string]int
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add registers the distinct terms of v.
func (c *Corpus) Add(v *Vector) {
	if c == nil || v == nil {
		return
	}
	c.docs++
	for term := range v.terms {
		c.docFreq[term]++
	}
}

// IDF returns smoothed inverse document frequencies: log((N+1)/(1+df)) + 1.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docs == 0 {
		return nil
	}
	idf := make(map[string]float64, len(c.docFreq))
	n := float64(c.docs)
	for term, df := range c.docFreq {
		idf[term] = math.Log((n+1)/(1+float64(df))) + 1
	}
	return idf
}
