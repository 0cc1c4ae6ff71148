package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Role identifies who produced a Message in a Chat history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function call the model asked the engine to perform.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one turn of chat history. ToolCallID is set on a RoleTool
// message to identify which ToolCall it answers; ToolCalls is set on a
// RoleAssistant message that invoked one or more tools.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolSpec declares one callable tool's name, description, and JSON-schema
// shaped parameters, advertised to the model on every turn.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelResponse is what a Chat call returns: either free text with no
// ToolCalls, or one or more tool invocations to satisfy before the model
// can continue.
type ModelResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// Model is the external reasoning-model collaborator: a chat-with-tools
// interface. The engine holds no model-specific code outside an
// implementation of this interface, so GenAIModel and StubModel are
// interchangeable at construction time.
type Model interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ModelResponse, error)
}

// GenAIModel implements Model against Google's Gemini API via
// google.golang.org/genai, driving a full chat-with-function-calling
// loop.
type GenAIModel struct {
	client *genai.Client
	model  string
}

// GenAIModelConfig configures a GenAIModel.
type GenAIModelConfig struct {
	APIKey    string
	ProjectID string
	Location  string
	Model     string
}

// NewGenAIModel constructs a GenAIModel. Model defaults to
// "gemini-2.0-flash"; Location defaults to "us-central1" when no API key
// is set (Vertex AI application-default-credentials mode).
func NewGenAIModel(ctx context.Context, cfg GenAIModelConfig) (*GenAIModel, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if strings.TrimSpace(cfg.APIKey) != "" {
		cc.APIKey = cfg.APIKey
	}
	if strings.TrimSpace(cfg.ProjectID) != "" {
		cc.Project = cfg.ProjectID
	}
	loc := cfg.Location
	if loc == "" && strings.TrimSpace(cfg.APIKey) == "" {
		loc = "us-central1"
	}
	if loc != "" {
		cc.Location = loc
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GenAIModel{client: client, model: cfg.Model}, nil
}

// Chat sends the accumulated message history plus the declared toolset to
// Gemini and translates its response back into a ModelResponse.
func (m *GenAIModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ModelResponse, error) {
	contents, systemInstruction := toGenAIContents(messages)
	genaiTools, err := toGenAITools(tools)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("convert tool schema: %w", err)
	}

	cfg := &genai.GenerateContentConfig{Tools: genaiTools}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, cfg)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("generate content: %w", err)
	}
	return fromGenAIResponse(resp), nil
}

func toGenAIContents(messages []Message) (contents []*genai.Content, systemInstruction string) {
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n"
			}
			systemInstruction += msg.Content
		case RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
				result = map[string]any{"result": msg.Content}
			}
			part := genai.NewPartFromFunctionResponse(msg.ToolCallID, result)
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		default: // RoleUser
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, systemInstruction
}

func toGenAITools(tools []ToolSpec) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	funcs := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema, err := mapToSchema(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		funcs = append(funcs, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcs}}, nil
}

// mapToSchema round-trips a hand-written JSON-schema-shaped map through
// genai.Schema's own JSON tags rather than hand-mapping every field.
func mapToSchema(params map[string]any) (*genai.Schema, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var schema genai.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func fromGenAIResponse(resp *genai.GenerateContentResponse) ModelResponse {
	var out ModelResponse
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	return out
}

// StubModel is a deterministic, network-free Model used in tests and in
// offline development. It returns a fixed final_answer tool call citing
// every chunk id the caller tells it about; once a final_answer call is
// already in the message history it returns plain text instead.
type StubModel struct {
	// ChunkIDs, when set, are echoed into a synthetic final_answer tool
	// call's evidence argument.
	ChunkIDs []string
	Err      error
}

func (m *StubModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ModelResponse, error) {
	if m.Err != nil {
		return ModelResponse{}, m.Err
	}
	hasFinalAnswer := false
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.Name == toolFinalAnswer {
				hasFinalAnswer = true
			}
		}
	}
	if hasFinalAnswer {
		return ModelResponse{Text: "stub final answer already delivered"}, nil
	}

	args, _ := json.Marshal(map[string]any{
		"answer":     "stub answer based on retrieved context",
		"evidence":   m.ChunkIDs,
		"confidence": 0.5,
	})
	return ModelResponse{ToolCalls: []ToolCall{{ID: "stub-1", Name: toolFinalAnswer, Arguments: args}}}, nil
}
