package lexical

import (
	"math"
	"testing"
)

func TestTokenizeDropsShortAndStopWords(t *testing.T) {
	toks := Tokenize("The quick fox is on a mat, a2 ab")
	want := map[string]bool{"quick": true, "fox": true, "mat": true, "a2": true, "ab": true}
	if len(toks) != len(want) {
		t.Fatalf("got %v, want terms matching %v", toks, want)
	}
	for _, tok := range toks {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
	}
}

func TestVectorizeIsNormalized(t *testing.T) {
	v := Vectorize("retry retry backoff backoff backoff")
	var sumSq float64
	for _, w := range v {
		sumSq += w * w
	}
	if math.Abs(sumSq-1.0) > 1e-9 {
		t.Errorf("expected unit L2 norm, got sum of squares %f", sumSq)
	}
}

func TestVectorizeEmpty(t *testing.T) {
	v := Vectorize("a an the is")
	if len(v) != 0 {
		t.Errorf("expected empty sparse vector, got %v", v)
	}
}

func TestHashTermDeterministic(t *testing.T) {
	if HashTerm("retry") != HashTerm("retry") {
		t.Error("HashTerm must be deterministic across calls")
	}
	if HashTerm("retry") == HashTerm("backoff") {
		t.Error("different terms unexpectedly hashed to the same bucket")
	}
}

func TestIndexAndQueryShareTransform(t *testing.T) {
	// Regression guard for the shared-transform invariant: the same
	// term in chunk text and query text must hash to the same dimension.
	chunk := Vectorize("func Retry(ctx context.Context) error")
	query := Vectorize("retry context")
	for term := range query {
		if _, ok := chunk[term]; !ok {
			t.Errorf("query term hash %d missing from the chunk vector", term)
		}
	}
	if HashTerm("retry") != HashTerm("retry") {
		t.Fatal("hash drifted between chunk and query vectorization")
	}
}
