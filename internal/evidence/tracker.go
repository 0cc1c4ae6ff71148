// Package evidence implements the evidence tracker: it holds the set
// of chunks retrieved for the current query plus the Evidence accumulated
// by the reasoning engine, and scores how well a response's claims are
// covered by that evidence.
package evidence

import (
	"github.com/seanblong/rlmcode/internal/claims"
	"github.com/seanblong/rlmcode/pkg/models"
)

// lowConfidenceThreshold marks an Evidence too weak to count as coverage
// even when it cites a chunk.
const lowConfidenceThreshold = 0.4

// Gap reasons reported by CheckCoverage.
const (
	GapNoEvidence     = "No evidence found"
	GapNoSourceChunks = "Evidence has no source chunks"
	GapLowConfidence  = "Low confidence evidence"
)

// Gap describes one verifiable claim that failed to find supporting
// evidence.
type Gap struct {
	Claim  models.AtomicClaim
	Reason string
}

// CoverageResult is the outcome of checking a set of claims against a set
// of evidence.
type CoverageResult struct {
	Total         int
	Covered       int
	Uncovered     int
	CoverageRatio float64
	Gaps          []Gap
}

// Tracker holds the chunks registered for the current retrieval plus the
// Evidence accumulated across the engine's reasoning. It belongs to one
// dispatch invocation and is cleared between top-level queries.
type Tracker struct {
	chunks   map[string]models.Chunk
	evidence []models.Evidence
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{chunks: make(map[string]models.Chunk)}
}

// Clear drops all registered chunks and accumulated evidence, readying
// the Tracker for a new top-level dispatch.
func (t *Tracker) Clear() {
	t.chunks = make(map[string]models.Chunk)
	t.evidence = nil
}

// RegisterChunks records the chunks retrieved for the current query so
// later Evidence.SourceChunkIDs can be resolved back to text.
func (t *Tracker) RegisterChunks(scored []models.ScoredChunk) {
	for _, sc := range scored {
		t.chunks[sc.Chunk.ID] = sc.Chunk
	}
}

// AddEvidence appends e to the accumulated evidence. Per the State
// invariant, every SourceChunkIDs entry should already be one of the ids
// registered via RegisterChunks; AddEvidence does not enforce this since
// synthetic evidence produced during verification-driven refinement may
// legitimately reference a prior iteration's chunks.
func (t *Tracker) AddEvidence(e models.Evidence) {
	t.evidence = append(t.evidence, e)
}

// GetAllEvidence returns every Evidence accumulated so far.
func (t *Tracker) GetAllEvidence() []models.Evidence {
	return t.evidence
}

// GetChunk looks up a registered chunk by id.
func (t *Tracker) GetChunk(id string) (models.Chunk, bool) {
	c, ok := t.chunks[id]
	return c, ok
}

// ExtractClaims delegates to the claims package, decomposing response
// into atomic claims.
func (t *Tracker) ExtractClaims(response string) []models.AtomicClaim {
	return claims.ExtractAtomicClaims(response)
}

// CheckCoverage matches each claim against the accumulated evidence using
// the same fuzzy keyword-overlap rule the claim extractor uses to link a
// claim to a chunk, extended here to match a claim against an Evidence's
// own Claim text or the text of the chunks it cites.
func (t *Tracker) CheckCoverage(claimList []models.AtomicClaim, evidenceList []models.Evidence) CoverageResult {
	result := CoverageResult{Total: len(claimList)}
	for _, c := range claimList {
		_, reason, ok := t.matchEvidence(c, evidenceList)
		if ok {
			result.Covered++
			continue
		}
		result.Uncovered++
		result.Gaps = append(result.Gaps, Gap{Claim: c, Reason: reason})
	}
	if result.Total > 0 {
		result.CoverageRatio = float64(result.Covered) / float64(result.Total)
	}
	return result
}

// matchEvidence returns the first Evidence that covers claim, or a gap
// reason when none does.
func (t *Tracker) matchEvidence(claim models.AtomicClaim, evidenceList []models.Evidence) (models.Evidence, string, bool) {
	var sawAny bool
	for _, ev := range evidenceList {
		if !t.overlaps(claim, ev) {
			continue
		}
		sawAny = true
		if len(ev.SourceChunkIDs) == 0 {
			continue
		}
		if ev.Confidence < lowConfidenceThreshold {
			continue
		}
		return ev, "", true
	}
	if !sawAny {
		return models.Evidence{}, GapNoEvidence, false
	}
	for _, ev := range evidenceList {
		if !t.overlaps(claim, ev) {
			continue
		}
		if len(ev.SourceChunkIDs) == 0 {
			return models.Evidence{}, GapNoSourceChunks, false
		}
	}
	return models.Evidence{}, GapLowConfidence, false
}

// overlaps reports whether claim and ev are linked: either the claim's
// text fuzzy-matches the evidence's own claim text, or it fuzzy-matches
// the text of any chunk the evidence cites.
func (t *Tracker) overlaps(claim models.AtomicClaim, ev models.Evidence) bool {
	if claims.LinksToChunk(claim.Text, ev.Claim) {
		return true
	}
	for _, id := range ev.SourceChunkIDs {
		if chunk, ok := t.chunks[id]; ok && claims.LinksToChunk(claim.Text, chunk.Text) {
			return true
		}
	}
	return false
}

// Consistency scores how concentrated the evidence is across files: the
// fraction of evidence-cited chunks that share the single most common
// path. Evidence spread across many unrelated files scores low;
// evidence clustered in one or few files scores high.
func (t *Tracker) Consistency(evidenceList []models.Evidence) float64 {
	counts := map[string]int{}
	total := 0
	for _, ev := range evidenceList {
		for _, id := range ev.SourceChunkIDs {
			chunk, ok := t.chunks[id]
			if !ok {
				continue
			}
			counts[chunk.Metadata.Path]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	return float64(max) / float64(total)
}
