package engine

import (
	"strings"
	"testing"

	"github.com/seanblong/rlmcode/pkg/models"
)

func stateWith(texts ...string) *State {
	s := NewState(3, 10000)
	scored := make([]models.ScoredChunk, len(texts))
	for i, text := range texts {
		scored[i] = models.ScoredChunk{
			Chunk: models.Chunk{
				ID:       "c" + string(rune('1'+i)),
				Text:     text,
				Metadata: models.ChunkMetadata{Path: "a.go", SymbolName: "F", StartLine: 1, EndLine: 3},
			},
			Score: 0.9,
		}
	}
	s.Initialize("q", scored)
	return s
}

func TestContextSummary_OneLinePerChunk(t *testing.T) {
	s := stateWith("line1\nline2", "other")
	summary := strings.TrimRight(s.ContextSummary(), "\n")
	lines := strings.Split(summary, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 summary lines, got %d: %q", len(lines), summary)
	}
	if !strings.HasPrefix(lines[0], "[c1] a.go:1-3") {
		t.Errorf("unexpected summary line: %q", lines[0])
	}
}

func TestContextLines_GlobalNumberingCountsSeparators(t *testing.T) {
	s := stateWith("alpha\nbeta", "gamma")
	// Line 1 is the first chunk's separator header, lines 2-3 its text,
	// line 4 the second separator, line 5 "gamma".
	got := s.ContextLines(2, 3)
	if got != "alpha\nbeta" {
		t.Errorf("expected the first chunk's text at global lines 2-3, got %q", got)
	}
	if !strings.Contains(s.ContextLines(1, 1), "--- c1 (a.go) ---") {
		t.Errorf("expected line 1 to be the separator, got %q", s.ContextLines(1, 1))
	}
}

func TestContextLines_OutOfRangeClamps(t *testing.T) {
	s := stateWith("one\ntwo")
	if got := s.ContextLines(-5, 1000); got == "" {
		t.Errorf("expected clamped full context, got empty")
	}
	if got := s.ContextLines(500, 600); got != "" {
		t.Errorf("expected empty result for a range past the end, got %q", got)
	}
	if got := s.ContextLines(3, 2); got != "" {
		t.Errorf("expected empty result for an inverted range, got %q", got)
	}
}

func TestSearchContext_CaseInsensitiveAndCapped(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Needle here\n")
	}
	s := stateWith(b.String())

	hits := s.SearchContext("needle")
	if len(hits) != maxSearchHits {
		t.Fatalf("expected hit cap of %d, got %d", maxSearchHits, len(hits))
	}
	if hits[0].ChunkID != "c1" || hits[0].LineInChunk != 1 {
		t.Errorf("unexpected first hit: %+v", hits[0])
	}
}

func TestSearchContext_InvalidPatternYieldsNoHits(t *testing.T) {
	s := stateWith("text")
	if hits := s.SearchContext("("); hits != nil {
		t.Errorf("expected nil hits for an invalid pattern, got %+v", hits)
	}
}

func TestVariables_RoundTrip(t *testing.T) {
	s := stateWith("text")
	s.SetVariable("key", 42)
	v, ok := s.GetVariable("key")
	if !ok || v != 42 {
		t.Errorf("expected (42, true), got (%v, %v)", v, ok)
	}
	if _, ok := s.GetVariable("missing"); ok {
		t.Errorf("expected missing variable to report !ok")
	}
}

func TestCanRecurse_DepthAndTokenBudget(t *testing.T) {
	s := NewState(1, 10)
	if !s.CanRecurse() {
		t.Fatalf("fresh state should permit recursion")
	}
	s.IncrementDepth()
	if s.CanRecurse() {
		t.Errorf("expected depth cap to block recursion")
	}

	s2 := NewState(5, 10)
	s2.AddTokens(10)
	if s2.CanRecurse() {
		t.Errorf("expected token budget to block recursion")
	}
}

func TestInitialize_ResetsAccumulators(t *testing.T) {
	s := stateWith("text")
	s.AddTokens(100)
	s.IncrementDepth()
	s.AddReasoning("step")
	s.AddEvidence(models.Evidence{Claim: "x"})
	s.SetVariable("k", "v")

	s.Initialize("new query", nil)
	if s.TokensUsed != 0 || s.Depth != 0 || len(s.Reasoning) != 0 || len(s.Evidence) != 0 {
		t.Errorf("expected counters and traces reset, got %+v", s)
	}
	if _, ok := s.GetVariable("k"); ok {
		t.Errorf("expected variables cleared")
	}
	if s.OriginalQuery != "new query" {
		t.Errorf("expected original query recorded, got %q", s.OriginalQuery)
	}
}
