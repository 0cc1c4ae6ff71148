package retriever

import (
	"sort"

	"github.com/seanblong/rlmcode/pkg/models"
)

// kRRF is the reciprocal rank fusion constant. 60 is the standard value
// used across BM25+vector fusion implementations; it flattens the
// influence of rank 1 vs rank 2 enough that a chunk appearing in both
// lists reliably outranks one appearing near the top of only one.
const kRRF = 60

const noRank = int(^uint(0) >> 1)

// fuse combines two rank-ordered result lists (best first) into one,
// scoring each chunk id by Σ 1/(kRRF+rank) over the lists it appears in.
// Ties are broken by a better (smaller) dense rank, then a better sparse
// rank, then lexicographically smaller id.
func fuse(dense, sparse []models.ScoredChunk) []models.ScoredChunk {
	scores := make(map[string]float64)
	chunks := make(map[string]models.Chunk)
	denseRank := make(map[string]int)
	sparseRank := make(map[string]int)

	for i, sc := range dense {
		rank := i + 1
		id := sc.Chunk.ID
		scores[id] += 1.0 / float64(kRRF+rank)
		chunks[id] = sc.Chunk
		denseRank[id] = rank
	}
	for i, sc := range sparse {
		rank := i + 1
		id := sc.Chunk.ID
		scores[id] += 1.0 / float64(kRRF+rank)
		if _, ok := chunks[id]; !ok {
			chunks[id] = sc.Chunk
		}
		sparseRank[id] = rank
	}

	ids := make([]string, 0, len(chunks))
	for id := range chunks {
		ids = append(ids, id)
	}

	rankOf := func(m map[string]int, id string) int {
		if r, ok := m[id]; ok {
			return r
		}
		return noRank
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		if da, db := rankOf(denseRank, a), rankOf(denseRank, b); da != db {
			return da < db
		}
		if sa, sb := rankOf(sparseRank, a), rankOf(sparseRank, b); sa != sb {
			return sa < sb
		}
		return a < b
	})

	out := make([]models.ScoredChunk, len(ids))
	for i, id := range ids {
		out[i] = models.ScoredChunk{Chunk: chunks[id], Score: scores[id]}
	}
	return out
}
