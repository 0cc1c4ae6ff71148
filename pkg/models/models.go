// Package models holds the data types shared across the indexing,
// retrieval, reasoning, and verification layers.
package models

// SymbolType classifies the declaration a Chunk was extracted from.
type SymbolType string

const (
	SymbolFunction SymbolType = "function"
	SymbolClass    SymbolType = "class"
	SymbolMethod   SymbolType = "method"
	SymbolModule   SymbolType = "module"
	SymbolMarkdown SymbolType = "markdown"
	SymbolOther    SymbolType = "other"
)

// ChunkMetadata is the descriptive payload carried alongside a Chunk's text.
type ChunkMetadata struct {
	Path       string     `json:"path"`
	Language   string     `json:"language"`
	SymbolType SymbolType `json:"symbol_type"`
	SymbolName string     `json:"symbol_name"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	FileHash   string     `json:"file_hash"`
}

// Chunk is an immutable, metadata-annotated span of source text. Its ID is
// deterministic from (FileHash, StartLine, SymbolName) plus an ordinal
// suffix for split sub-chunks; see internal/chunker.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// DenseVector is a fixed-length embedding. Its length is determined by the
// collection the Chunk was embedded into.
type DenseVector []float32

// SparseVector maps a stable hashed term to a non-negative weight.
type SparseVector map[uint32]float64

// ScoredChunk pairs a Chunk with the fused retrieval score that surfaced it.
// It lives only inside a single engine invocation.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Evidence ties a claim to the chunk ids that support it. Immutable after
// construction.
type Evidence struct {
	Claim          string   `json:"claim"`
	SourceChunkIDs []string `json:"source_chunk_ids"`
	Confidence     float64  `json:"confidence"`
	Verified       bool     `json:"verified"`
}

// AtomicClaim is a single, standalone factual assertion extracted from a
// response, along with the context and chunks it may be linked to.
type AtomicClaim struct {
	Text           string   `json:"text"`
	Verifiable     bool     `json:"verifiable"`
	Context        string   `json:"context"`
	SourcePosition int      `json:"source_position"`
	ChunkIDs       []string `json:"chunk_ids"`
}
