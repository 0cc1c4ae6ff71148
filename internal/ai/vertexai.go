package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seanblong/rlmcode/pkg/models"
	"google.golang.org/genai"
)

// VertexAIEmbedder calls the Gemini API's embedding endpoint.
type VertexAIEmbedder struct {
	config *Config
	client *genai.Client
}

// NewVertexAIEmbedder creates a client for the Gemini API's embedding model.
func NewVertexAIEmbedder(ctx context.Context, config *Config) (*VertexAIEmbedder, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &VertexAIEmbedder{config: config, client: client}, nil
}

func (c *VertexAIEmbedder) Embed(ctx context.Context, text string) (models.DenseVector, error) {
	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return models.DenseVector(res.Embeddings[0].Values), nil
}

func (c *VertexAIEmbedder) Dim() int { return c.config.Dim }
