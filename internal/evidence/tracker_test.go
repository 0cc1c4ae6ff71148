package evidence

import (
	"testing"

	"github.com/seanblong/rlmcode/pkg/models"
)

func chunk(id, path, text string) models.Chunk {
	return models.Chunk{ID: id, Text: text, Metadata: models.ChunkMetadata{Path: path}}
}

func TestCheckCoverage_CoveredClaim(t *testing.T) {
	tr := New()
	tr.RegisterChunks([]models.ScoredChunk{{Chunk: chunk("c1", "a.go", "func ParseConfig() (*Config, error) { return nil, nil }")}})
	ev := models.Evidence{Claim: "ParseConfig reads config", SourceChunkIDs: []string{"c1"}, Confidence: 0.9}
	tr.AddEvidence(ev)

	cl := []models.AtomicClaim{{Text: "The function ParseConfig returns a Config and an error.", Verifiable: true}}
	res := tr.CheckCoverage(cl, tr.GetAllEvidence())
	if res.Covered != 1 || res.Uncovered != 0 {
		t.Fatalf("expected claim to be covered, got %+v", res)
	}
	if res.CoverageRatio != 1.0 {
		t.Errorf("expected coverage ratio 1.0, got %v", res.CoverageRatio)
	}
}

func TestCheckCoverage_NoEvidenceGap(t *testing.T) {
	tr := New()
	cl := []models.AtomicClaim{{Text: "The function ParseConfig returns a Config and an error.", Verifiable: true}}
	res := tr.CheckCoverage(cl, nil)
	if res.Covered != 0 || len(res.Gaps) != 1 {
		t.Fatalf("expected one gap, got %+v", res)
	}
	if res.Gaps[0].Reason != GapNoEvidence {
		t.Errorf("expected %q, got %q", GapNoEvidence, res.Gaps[0].Reason)
	}
}

func TestCheckCoverage_LowConfidenceGap(t *testing.T) {
	tr := New()
	tr.RegisterChunks([]models.ScoredChunk{{Chunk: chunk("c1", "a.go", "func ParseConfig() (*Config, error) { return nil, nil }")}})
	tr.AddEvidence(models.Evidence{Claim: "ParseConfig reads config", SourceChunkIDs: []string{"c1"}, Confidence: 0.1})

	cl := []models.AtomicClaim{{Text: "The function ParseConfig returns a Config and an error.", Verifiable: true}}
	res := tr.CheckCoverage(cl, tr.GetAllEvidence())
	if len(res.Gaps) != 1 || res.Gaps[0].Reason != GapLowConfidence {
		t.Fatalf("expected low confidence gap, got %+v", res)
	}
}

func TestCheckCoverage_NoSourceChunksGap(t *testing.T) {
	tr := New()
	tr.AddEvidence(models.Evidence{Claim: "The function ParseConfig returns a Config and an error.", SourceChunkIDs: nil, Confidence: 0.9})

	cl := []models.AtomicClaim{{Text: "The function ParseConfig returns a Config and an error.", Verifiable: true}}
	res := tr.CheckCoverage(cl, tr.GetAllEvidence())
	if len(res.Gaps) != 1 || res.Gaps[0].Reason != GapNoSourceChunks {
		t.Fatalf("expected no-source-chunks gap, got %+v", res)
	}
}

func TestConsistency_ConcentratedEvidenceScoresHigh(t *testing.T) {
	tr := New()
	tr.RegisterChunks([]models.ScoredChunk{
		{Chunk: chunk("c1", "a.go", "x")},
		{Chunk: chunk("c2", "a.go", "y")},
		{Chunk: chunk("c3", "b.go", "z")},
	})
	ev := []models.Evidence{
		{SourceChunkIDs: []string{"c1"}},
		{SourceChunkIDs: []string{"c2"}},
		{SourceChunkIDs: []string{"c3"}},
	}
	got := tr.Consistency(ev)
	if got < 0.6 {
		t.Errorf("expected concentrated evidence (2/3 in a.go) to score high, got %v", got)
	}
}

func TestConsistency_NoEvidenceScoresZero(t *testing.T) {
	tr := New()
	if got := tr.Consistency(nil); got != 0 {
		t.Errorf("expected 0 consistency with no evidence, got %v", got)
	}
}

func TestClear_ResetsState(t *testing.T) {
	tr := New()
	tr.RegisterChunks([]models.ScoredChunk{{Chunk: chunk("c1", "a.go", "x")}})
	tr.AddEvidence(models.Evidence{SourceChunkIDs: []string{"c1"}})
	tr.Clear()
	if len(tr.GetAllEvidence()) != 0 {
		t.Errorf("expected evidence cleared")
	}
	if _, ok := tr.GetChunk("c1"); ok {
		t.Errorf("expected chunks cleared")
	}
}
