// Package engine implements the recursive, tool-mediated reasoning loop:
// a REPL-style state machine in which the
// reasoning model inspects retrieved context only through a fixed set of
// tools, with bounded recursion depth and token budget.
package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/seanblong/rlmcode/pkg/models"
)

// SearchHit is one match returned by State.SearchContext.
type SearchHit struct {
	ChunkID     string `json:"chunk_id"`
	LineInChunk int    `json:"line_in_chunk"`
	LineText    string `json:"line_text"`
}

const maxSearchHits = 20

// chunkSpan records where a chunk's text landed in the concatenated,
// globally line-numbered context built by Initialize.
type chunkSpan struct {
	chunk     models.Chunk
	score     float64
	startLine int // 1-indexed, inclusive, in the concatenated context
	endLine   int // 1-indexed, inclusive
}

// State is the mutable container for a single top-level engine invocation
// (one top-level query plus any recursive sub-queries it spawns). Reset on
// every call to Initialize.
type State struct {
	Variables map[string]any

	OriginalQuery string
	Query         string

	Depth       int
	MaxDepth    int
	TokenBudget int
	TokensUsed  int

	Evidence  []models.Evidence
	Reasoning []string

	spans       []chunkSpan
	byID        map[string]int // chunk id -> index into spans
	fullContext string
	lineOffsets []int // lineOffsets[i] = byte offset of the start of line i+1 in fullContext
}

// NewState constructs an empty State. MaxDepth and TokenBudget are carried
// from engine configuration and apply for the lifetime of the State.
func NewState(maxDepth, tokenBudget int) *State {
	return &State{MaxDepth: maxDepth, TokenBudget: tokenBudget, Variables: make(map[string]any)}
}

// Initialize clears prior retrieval and reasoning state (variables,
// evidence, reasoning, depth, and token counters all reset) and installs
// chunks in retrieval order, building the concatenated, globally
// line-numbered context used by ContextLines and SearchContext.
func (s *State) Initialize(query string, chunks []models.ScoredChunk) {
	s.Variables = make(map[string]any)
	s.Evidence = nil
	s.Reasoning = nil
	s.Depth = 0
	s.TokensUsed = 0
	s.OriginalQuery = query
	s.Query = query

	s.spans = make([]chunkSpan, 0, len(chunks))
	s.byID = make(map[string]int, len(chunks))

	var sb strings.Builder
	line := 1
	for i, sc := range chunks {
		if i > 0 {
			sb.WriteString("\n")
			line++
		}
		header := fmt.Sprintf("--- %s (%s) ---", sc.Chunk.ID, sc.Chunk.Metadata.Path)
		sb.WriteString(header)
		sb.WriteString("\n")
		start := line + 1

		text := sc.Chunk.Text
		sb.WriteString(text)
		lines := strings.Count(text, "\n")
		if !strings.HasSuffix(text, "\n") {
			lines++
		}
		end := start + lines - 1
		if end < start {
			end = start
		}
		line = end

		s.byID[sc.Chunk.ID] = len(s.spans)
		s.spans = append(s.spans, chunkSpan{chunk: sc.Chunk, score: sc.Score, startLine: start, endLine: end})
	}
	s.fullContext = sb.String()
	s.lineOffsets = computeLineOffsets(s.fullContext)
}

func computeLineOffsets(text string) []int {
	offsets := []int{0}
	for i, r := range text {
		if r == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// ContextSummary returns one line per chunk, in retrieval order:
// "[id] path:start-end (symbol, score)". This is the only view of the
// retrieved context the reasoning model sees directly in its prompt.
func (s *State) ContextSummary() string {
	var sb strings.Builder
	for _, sp := range s.spans {
		m := sp.chunk.Metadata
		fmt.Fprintf(&sb, "[%s] %s:%d-%d (%s, %.3f)\n", sp.chunk.ID, m.Path, m.StartLine, m.EndLine, m.SymbolName, sp.score)
	}
	return sb.String()
}

// ContextLines returns the slice of the concatenated context between
// global line numbers start and end, inclusive and 1-indexed. The
// "--- id (path) ---" header line before each chunk counts toward the
// numbering, so the first chunk's text begins on line 2. Out-of-range
// endpoints clamp to the available span; an empty string is returned if
// the requested range does not intersect the context at all.
func (s *State) ContextLines(start, end int) string {
	totalLines := len(s.lineOffsets)
	if totalLines == 0 {
		return ""
	}
	if start < 1 {
		start = 1
	}
	if end > totalLines {
		end = totalLines
	}
	if start > end || start > totalLines {
		return ""
	}

	startOffset := s.lineOffsets[start-1]
	var endOffset int
	if end == totalLines {
		endOffset = len(s.fullContext)
	} else {
		endOffset = s.lineOffsets[end] - 1
	}
	if endOffset < startOffset {
		return ""
	}
	return s.fullContext[startOffset:endOffset]
}

// SearchContext runs pattern as a case-insensitive regex over every
// registered chunk's own text (not the separator-joined context), returning
// up to 20 hits in chunk order. An invalid pattern yields no hits rather
// than an error, since the tool-calling contract never surfaces Go errors
// to the model.
func (s *State) SearchContext(pattern string) []SearchHit {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}

	var hits []SearchHit
	for _, sp := range s.spans {
		for i, line := range strings.Split(sp.chunk.Text, "\n") {
			if re.MatchString(line) {
				hits = append(hits, SearchHit{ChunkID: sp.chunk.ID, LineInChunk: i + 1, LineText: line})
				if len(hits) >= maxSearchHits {
					return hits
				}
			}
		}
	}
	return hits
}

// GetChunk looks up a chunk by id among those registered in the current
// State.
func (s *State) GetChunk(id string) (models.Chunk, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return models.Chunk{}, false
	}
	return s.spans[idx].chunk, true
}

// SetVariable stores an opaque value under key for later retrieval within
// the same State's lifetime.
func (s *State) SetVariable(key string, value any) { s.Variables[key] = value }

// GetVariable retrieves a value set by SetVariable.
func (s *State) GetVariable(key string) (any, bool) {
	v, ok := s.Variables[key]
	return v, ok
}

// CanRecurse reports whether another recursive call is permitted under the
// depth and token budgets.
func (s *State) CanRecurse() bool {
	return s.Depth < s.MaxDepth && s.TokensUsed < s.TokenBudget
}

// AddTokens accumulates n into TokensUsed.
func (s *State) AddTokens(n int) { s.TokensUsed += n }

// IncrementDepth accumulates one level of recursion depth.
func (s *State) IncrementDepth() { s.Depth++ }

// AddEvidence appends e to the accumulated evidence list.
func (s *State) AddEvidence(e models.Evidence) { s.Evidence = append(s.Evidence, e) }

// AddReasoning appends a trace line describing one step of the reasoning
// loop.
func (s *State) AddReasoning(line string) { s.Reasoning = append(s.Reasoning, line) }
