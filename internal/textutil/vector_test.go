package textutil

import (
	"math"
	"testing"
)

func TestCosineNil(t *testing.T) {
	tests := []struct {
		name string
		a    *Vector
		b    *Vector
	}{
		{"both nil", nil, nil},
		{"a nil", nil, NewVector("termination notice")},
		{"b nil", NewVector("termination notice"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); got != 0 {
				t.Errorf("Cosine() = %v, want 0", got)
			}
		})
	}
}

func TestCosineIdentical(t *testing.T) {
	text := "Employee shall not compete within twelve months of termination"
	got := Cosine(NewVector(text), NewVector(text))
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("Cosine(identical) = %v, want 1", got)
	}
}

func TestCosineDisjoint(t *testing.T) {
	got := Cosine(NewVector("indemnity liability"), NewVector("salary bonus"))
	if got != 0 {
		t.Errorf("Cosine(disjoint) = %v, want 0", got)
	}
}

func TestCosineSymmetricPartial(t *testing.T) {
	a := NewVector("notice period three months")
	b := NewVector("notice period six weeks")
	ab, ba := Cosine(a, b), Cosine(b, a)
	if ab != ba {
		t.Fatalf("Cosine not symmetric: %v vs %v", ab, ba)
	}
	if ab <= 0 || ab >= 1 {
		t.Fatalf("Cosine(partial) = %v, want between 0 and 1", ab)
	}
}

func TestNewVectorEmpty(t *testing.T) {
	if v := NewVector(""); v != nil {
		t.Fatal("expected nil vector for empty text")
	}
	if v := NewVector("the and a"); v != nil {
		t.Fatal("expected nil vector for stopword-only text")
	}
}

func TestWeightedDownranksCommonTerms(t *testing.T) {
	corpus := NewCorpus()
	docs := []string{
		"agreement clause payment",
		"agreement clause termination",
		"agreement clause noncompete",
	}
	for _, doc := range docs {
		corpus.Add(NewVector(doc))
	}
	idf := corpus.IDF()
	if idf["agreement"] >= idf["noncompete"] {
		t.Fatalf("expected common term to weigh less: agreement=%v noncompete=%v", idf["agreement"], idf["noncompete"])
	}

	query := NewVector("noncompete agreement").Weighted(idf)
	hit := NewVector(docs[2]).Weighted(idf)
	miss := NewVector(docs[0]).Weighted(idf)
	if Cosine(query, hit) <= Cosine(query, miss) {
		t.Fatal("expected weighted query to prefer the noncompete clause")
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "Risk Level", []string{"risk", "level"}},
		{"drops stopwords", "the notice and the term", []string{"notice", "term"}},
		{"keeps two letter terms", "IP rights", []string{"ip", "rights"}},
		{"punctuation", "Non-compete: 12 months!", []string{"non", "compete", "12", "months"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("Tokenize() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("short", 0); got != "short" {
		t.Fatalf("Truncate with no limit = %q", got)
	}
}
