// Package lexical implements the one deterministic text-to-SparseVector
// transform shared by the Indexer (chunk text) and the Retriever (query
// text). Sharing this transform is load-bearing: if indexing and
// querying ever drifted to separate implementations, sparse search would
// silently stop matching.
package lexical

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/seanblong/rlmcode/pkg/models"
)

// stopWords is a small, fixed set pulled at transform time. It is
// deliberately short: aggressive stopword removal would hide searchable
// identifiers that happen to be English words.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "to": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"and": {}, "or": {}, "it": {}, "this": {}, "that": {}, "with": {}, "as": {},
	"at": {}, "by": {}, "from": {}, "into": {}, "do": {}, "does": {}, "did": {},
}

// Tokenize splits text into lowercase alphanumeric terms, dropping terms
// shorter than 2 characters and stop words.
func Tokenize(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if len(tok) < 2 {
			return
		}
		if _, stop := stopWords[tok]; stop {
			return
		}
		out = append(out, tok)
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// HashTerm maps a term to a stable 32-bit index shared by indexing and
// query time. FNV-1a is used because it is allocation-free and has no
// external dependency beyond the standard library.
func HashTerm(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

// Vectorize builds an L2-normalized SparseVector from free text: term
// frequency counted over the surviving tokens, each term mapped to its
// stable hash, then the weight vector is normalized to unit length so
// cosine-style similarity in the store is well-behaved.
func Vectorize(text string) models.SparseVector {
	counts := map[uint32]float64{}
	for _, tok := range Tokenize(text) {
		counts[HashTerm(tok)]++
	}
	if len(counts) == 0 {
		return models.SparseVector{}
	}
	var sumSq float64
	for _, w := range counts {
		sumSq += w * w
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return models.SparseVector{}
	}
	out := make(models.SparseVector, len(counts))
	for term, w := range counts {
		out[term] = w / norm
	}
	return out
}
