// Package ai provides the embedding collaborator used by the indexer and
// retriever. Chat-style reasoning against a tool-calling model lives in
// internal/engine instead; embedding and reasoning are distinct
// capabilities requiring distinct model families, so they are not
// bundled behind one interface.
package ai

import (
	"context"
	"errors"

	"github.com/seanblong/rlmcode/pkg/models"
)

// Embedder turns text into a dense vector. Implementations should be safe
// for concurrent use; embedcache.Cache is the only caller that needs to
// hold one at a time per key, via singleflight.
type Embedder interface {
	Embed(ctx context.Context, text string) (models.DenseVector, error)
	Dim() int
}

// Provider enumerates supported embedding backends.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// Config holds configuration for constructing an Embedder.
type Config struct {
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewEmbedder constructs an Embedder for the configured provider.
func NewEmbedder(ctx context.Context, config *Config) (Embedder, error) {
	if config == nil {
		return nil, errors.New("embedder config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(config), nil
	case ProviderVertexAI:
		return NewVertexAIEmbedder(ctx, config)
	case ProviderStub:
		return NewStubEmbedder(config.Dim), nil
	default:
		return nil, errors.New("unsupported embedding provider: " + string(config.Provider))
	}
}

// StubEmbedder returns zero vectors of a fixed dimension. Used in tests and
// as the no-collaborator fallback.
type StubEmbedder struct {
	dim int
}

// NewStubEmbedder constructs a StubEmbedder of the given dimension.
func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) Embed(ctx context.Context, text string) (models.DenseVector, error) {
	return make(models.DenseVector, s.dim), nil
}

func (s *StubEmbedder) Dim() int { return s.dim }
