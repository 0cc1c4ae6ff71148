package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/seanblong/rlmcode/internal/rlmerrors"
	"github.com/seanblong/rlmcode/pkg/models"
)

// Tool names advertised to the reasoning model. These five are the whole
// toolset; the engine never adds or removes a tool based on query
// content.
const (
	toolPeekContext   = "peek_context"
	toolSearchContext = "search_context"
	toolGetChunk      = "get_chunk"
	toolSubQuery      = "sub_query"
	toolFinalAnswer   = "final_answer"
)

// maxToolIterations is the safety cap on tool-calling turns within one
// Query/Recurse call, independent of the depth/token budget.
const maxToolIterations = 10

const systemPrompt = `You are a code intelligence assistant. You cannot see the retrieved ` +
	`context directly: you only know a one-line summary of each chunk. Use the ` +
	`peek_context, search_context, and get_chunk tools to inspect the actual source ` +
	`before answering. If a single chunk needs deeper investigation, you may issue one ` +
	`sub_query per turn. When you are confident, call final_answer with your answer, ` +
	`the chunk ids that support it, and a confidence score between 0 and 1.`

func userPrompt(query, summary string) string {
	return fmt.Sprintf("Query: %s\n\nRetrieved context (inspect via tools):\n%s", query, summary)
}

// RLMResult is what Query and Recurse return: the model's final answer,
// the evidence it cited, the accumulated reasoning trace, and enough
// bookkeeping for the dispatcher to decide whether to refine further.
type RLMResult struct {
	Response   string
	Evidence   []models.Evidence
	Reasoning  []string
	TokensUsed int
	Depth      int
	CanRecurse bool
}

// Engine runs the recursive, tool-mediated reasoning loop against a
// Model collaborator over a single, live State.
type Engine struct {
	Model  Model
	State  *State
	Logger zerolog.Logger

	pendingSubQuery *pendingSubQuery
}

type pendingSubQuery struct {
	chunkID  string
	question string
}

// New constructs an Engine with a fresh State bounded by maxDepth and
// tokenBudget.
func New(model Model, maxDepth, tokenBudget int, logger zerolog.Logger) *Engine {
	return &Engine{
		Model:  model,
		State:  NewState(maxDepth, tokenBudget),
		Logger: logger,
	}
}

// Query resets the Engine's State for a new top-level query, installs the
// retrieved chunks, and runs the tool-calling loop to completion.
func (e *Engine) Query(ctx context.Context, input string, chunks []models.ScoredChunk) (RLMResult, error) {
	e.State.Initialize(input, chunks)
	e.Logger.Debug().Str("query", input).Int("chunks", len(chunks)).Msg("engine query starting")
	return e.run(ctx)
}

// Recurse re-enters the loop with a refined query against the same live
// State (same chunks, accumulated evidence and reasoning), incrementing
// depth. If the budget is already exhausted, it returns a synthetic
// best-effort result instead of invoking the model again.
func (e *Engine) Recurse(ctx context.Context, refinedQuery string) (RLMResult, error) {
	if !e.State.CanRecurse() {
		e.State.AddReasoning("budget exhausted: depth or token limit reached, cannot recurse")
		return RLMResult{
			Response:   "Budget exhausted before a confident answer could be produced.",
			Evidence:   e.State.Evidence,
			Reasoning:  e.State.Reasoning,
			TokensUsed: e.State.TokensUsed,
			Depth:      e.State.Depth,
			CanRecurse: false,
		}, nil
	}
	e.State.IncrementDepth()
	e.State.Query = refinedQuery
	e.Logger.Debug().Str("refined_query", refinedQuery).Int("depth", e.State.Depth).Msg("engine recursing")
	return e.run(ctx)
}

// run drives the tool-calling loop for the State's current Query: send
// accumulated messages, charge tokens for the response text, handle any
// tool calls in order, and loop until final_answer, a no-tool-calls
// response, or the iteration safety cap.
func (e *Engine) run(ctx context.Context) (RLMResult, error) {
	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userPrompt(e.State.Query, e.State.ContextSummary())},
	}
	tools := toolSpecs()
	e.pendingSubQuery = nil

	for i := 0; i < maxToolIterations; i++ {
		resp, err := e.Model.Chat(ctx, messages, tools)
		if err != nil {
			return RLMResult{}, fmt.Errorf("engine: model chat: %w", err)
		}
		e.State.AddTokens(tokenCount(resp.Text))

		if len(resp.ToolCalls) == 0 {
			e.State.AddReasoning("model returned no tool calls; using raw response text as the final answer")
			return e.finish(resp.Text, nil, 0.3), nil
		}

		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})

		finalAnswer, isFinal := "", false
		var finalEvidence []string
		var finalConfidence float64

		for _, tc := range resp.ToolCalls {
			result := e.handleTool(tc)
			messages = append(messages, Message{Role: RoleTool, Content: result.output, ToolCallID: tc.ID})
			e.State.AddReasoning(fmt.Sprintf("tool %s(%s) -> %s", tc.Name, string(tc.Arguments), summarize(result.output)))
			if result.isFinal {
				isFinal = true
				finalAnswer = result.answer
				finalEvidence = result.evidence
				finalConfidence = result.confidence
			}
		}

		if isFinal {
			return e.finish(finalAnswer, finalEvidence, finalConfidence), nil
		}

		if e.pendingSubQuery != nil && e.State.CanRecurse() {
			pending := e.pendingSubQuery
			e.pendingSubQuery = nil
			return e.Recurse(ctx, fmt.Sprintf("[%s] %s", pending.chunkID, pending.question))
		}
		e.pendingSubQuery = nil
	}

	e.State.AddReasoning("reached the tool-iteration safety cap without a final_answer call")
	return e.finish("Unable to produce a confident final answer within the tool-call safety limit.", nil, 0.0), nil
}

// finish materializes one unverified Evidence per cited chunk id (claim =
// first 100 characters of the answer) and snapshots the budget state into
// an RLMResult.
func (e *Engine) finish(answer string, chunkIDs []string, confidence float64) RLMResult {
	claim := answer
	if len(claim) > 100 {
		claim = claim[:100]
	}
	for _, id := range chunkIDs {
		e.State.AddEvidence(models.Evidence{
			Claim:          claim,
			SourceChunkIDs: []string{id},
			Confidence:     confidence,
			Verified:       false,
		})
	}
	return RLMResult{
		Response:   answer,
		Evidence:   e.State.Evidence,
		Reasoning:  e.State.Reasoning,
		TokensUsed: e.State.TokensUsed,
		Depth:      e.State.Depth,
		CanRecurse: e.State.CanRecurse(),
	}
}

// tokenCount approximates token usage as ceil(len(text)/4) in lieu of a
// real tokenizer.
func tokenCount(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

func summarize(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

type toolResult struct {
	output     string
	isFinal    bool
	answer     string
	evidence   []string
	confidence float64
}

// handleTool validates a tool call's arguments against its declared shape
// and dispatches to the matching State operation. A schema failure is
// returned as the tool's own result text (never raised to the dispatch
// caller), per the ValidationError contract.
func (e *Engine) handleTool(tc ToolCall) toolResult {
	switch tc.Name {
	case toolPeekContext:
		var args struct {
			StartLine int `json:"start_line"`
			EndLine   int `json:"end_line"`
		}
		if err := unmarshalArgs(tc.Arguments, &args); err != nil {
			return toolResult{output: validationMessage(tc.Name, err)}
		}
		if args.StartLine < 0 || args.EndLine < args.StartLine {
			return toolResult{output: validationMessage(tc.Name, fmt.Errorf("start_line/end_line out of order"))}
		}
		lines := e.State.ContextLines(args.StartLine, args.EndLine)
		return toolResult{output: toJSON(map[string]any{"lines": lines})}

	case toolSearchContext:
		var args struct {
			Pattern string `json:"pattern"`
		}
		if err := unmarshalArgs(tc.Arguments, &args); err != nil || args.Pattern == "" {
			return toolResult{output: validationMessage(tc.Name, fmt.Errorf("pattern is required"))}
		}
		hits := e.State.SearchContext(args.Pattern)
		return toolResult{output: toJSON(map[string]any{"hits": hits})}

	case toolGetChunk:
		var args struct {
			ChunkID string `json:"chunk_id"`
		}
		if err := unmarshalArgs(tc.Arguments, &args); err != nil || args.ChunkID == "" {
			return toolResult{output: validationMessage(tc.Name, fmt.Errorf("chunk_id is required"))}
		}
		chunk, ok := e.State.GetChunk(args.ChunkID)
		if !ok {
			return toolResult{output: toJSON(map[string]any{"error": "chunk not found: " + args.ChunkID})}
		}
		header := fmt.Sprintf("[%s] %s:%d-%d (%s)", chunk.ID, chunk.Metadata.Path, chunk.Metadata.StartLine, chunk.Metadata.EndLine, chunk.Metadata.SymbolName)
		return toolResult{output: toJSON(map[string]any{"header": header, "text": chunk.Text})}

	case toolSubQuery:
		var args struct {
			ChunkID  string `json:"chunk_id"`
			Question string `json:"question"`
		}
		if err := unmarshalArgs(tc.Arguments, &args); err != nil || args.ChunkID == "" || args.Question == "" {
			return toolResult{output: validationMessage(tc.Name, fmt.Errorf("chunk_id and question are required"))}
		}
		if e.pendingSubQuery == nil {
			e.pendingSubQuery = &pendingSubQuery{chunkID: args.ChunkID, question: args.Question}
			id := uuid.NewString()
			return toolResult{output: toJSON(map[string]any{"status": "scheduled", "sub_query_id": id})}
		}
		return toolResult{output: toJSON(map[string]any{"status": "scheduled"})}

	case toolFinalAnswer:
		var args struct {
			Answer     string   `json:"answer"`
			Evidence   []string `json:"evidence"`
			Confidence float64  `json:"confidence"`
			Reasoning  string   `json:"reasoning"`
		}
		if err := unmarshalArgs(tc.Arguments, &args); err != nil || args.Answer == "" {
			return toolResult{output: validationMessage(tc.Name, fmt.Errorf("answer is required"))}
		}
		if args.Confidence < 0 || args.Confidence > 1 {
			return toolResult{output: validationMessage(tc.Name, fmt.Errorf("confidence must be in [0,1]"))}
		}
		if args.Reasoning != "" {
			e.State.AddReasoning(args.Reasoning)
		}
		return toolResult{
			output:     toJSON(map[string]any{"status": "done"}),
			isFinal:    true,
			answer:     args.Answer,
			evidence:   args.Evidence,
			confidence: args.Confidence,
		}

	default:
		return toolResult{output: validationMessage(tc.Name, fmt.Errorf("unknown tool"))}
	}
}

func unmarshalArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(raw, into)
}

func validationMessage(tool string, err error) string {
	return toJSON(map[string]any{
		"error": fmt.Sprintf("%s: %s: %v", rlmerrors.ErrValidation, tool, err),
	})
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode tool result"}`
	}
	return string(b)
}

// toolSpecs declares the fixed toolset's JSON-schema-shaped parameters,
// the single source of truth for both the model-facing description and
// handleTool's runtime parsing.
func toolSpecs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        toolPeekContext,
			Description: "Read a range of globally-numbered lines from the concatenated retrieved context.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"start_line": map[string]any{"type": "INTEGER"},
					"end_line":   map[string]any{"type": "INTEGER"},
				},
				"required": []string{"start_line", "end_line"},
			},
		},
		{
			Name:        toolSearchContext,
			Description: "Search every retrieved chunk's text with a case-insensitive regular expression.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"pattern": map[string]any{"type": "STRING"},
				},
				"required": []string{"pattern"},
			},
		},
		{
			Name:        toolGetChunk,
			Description: "Fetch one retrieved chunk's full text and header by id.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"chunk_id": map[string]any{"type": "STRING"},
				},
				"required": []string{"chunk_id"},
			},
		},
		{
			Name:        toolSubQuery,
			Description: "Schedule a focused follow-up question about one chunk, to be answered via one level of recursion. At most one per turn is honored.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"chunk_id": map[string]any{"type": "STRING"},
					"question": map[string]any{"type": "STRING"},
				},
				"required": []string{"chunk_id", "question"},
			},
		},
		{
			Name:        toolFinalAnswer,
			Description: "Deliver the final answer, citing the chunk ids that support it and a confidence score.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"answer":     map[string]any{"type": "STRING"},
					"evidence":   map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
					"confidence": map[string]any{"type": "NUMBER"},
					"reasoning":  map[string]any{"type": "STRING"},
				},
				"required": []string{"answer", "evidence", "confidence"},
			},
		},
	}
}
