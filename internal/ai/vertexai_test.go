package ai

import (
	"context"
	"strings"
	"testing"
)

func TestNewVertexAIEmbedder_Configuration(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name               string
		config             *Config
		expectError        bool
		errorMsg           string
		expectedEmbedModel string
		expectedDim        int
	}{
		{
			name:        "missing API key",
			config:      &Config{APIKey: ""},
			expectError: true,
			errorMsg:    "failed to create Gemini client",
		},
		{
			name:               "with model specified",
			config:             &Config{APIKey: "test-api-key", EmbedModel: "custom-embed-model", Dim: 1024},
			expectError:        false,
			expectedEmbedModel: "custom-embed-model",
			expectedDim:        1024,
		},
		{
			name:               "with default model",
			config:             &Config{APIKey: "test-api-key"},
			expectError:        false,
			expectedEmbedModel: "text-embedding-005",
			expectedDim:        768,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.expectError {
				_, err := NewVertexAIEmbedder(ctx, tt.config)
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			configCopy := *tt.config
			if configCopy.EmbedModel == "" {
				configCopy.EmbedModel = "text-embedding-005"
			}
			if configCopy.Dim == 0 {
				configCopy.Dim = 768
			}
			if configCopy.EmbedModel != tt.expectedEmbedModel {
				t.Errorf("Expected EmbedModel '%s', got '%s'", tt.expectedEmbedModel, configCopy.EmbedModel)
			}
			if configCopy.Dim != tt.expectedDim {
				t.Errorf("Expected Dim %d, got %d", tt.expectedDim, configCopy.Dim)
			}
		})
	}
}

func TestVertexAIEmbedderDim(t *testing.T) {
	tests := []struct {
		name        string
		configDim   int
		expectedDim int
	}{
		{"default dimension", 768, 768},
		{"custom dimension", 1536, 1536},
		{"zero dimension", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &VertexAIEmbedder{config: &Config{APIKey: "test-key", Dim: tt.configDim}}
			if client.Dim() != tt.expectedDim {
				t.Errorf("Expected dimension %d, got %d", tt.expectedDim, client.Dim())
			}
		})
	}
}

func TestVertexAIEmbedderInterfaceCompliance(t *testing.T) {
	var _ Embedder = &VertexAIEmbedder{}
	client := &VertexAIEmbedder{config: &Config{APIKey: "test-key", Dim: 512}}
	if client.Dim() != 512 {
		t.Errorf("Expected Dim() to return 512, got %d", client.Dim())
	}
}

func TestVertexAIEmbedderErrorScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config", func(t *testing.T) {
		_, err := NewVertexAIEmbedder(ctx, nil)
		if err == nil {
			t.Fatal("Expected error with nil config")
		}
		if !strings.Contains(err.Error(), "config cannot be nil") {
			t.Errorf("Expected 'config cannot be nil' error, got: %v", err)
		}
	})

	t.Run("empty API key", func(t *testing.T) {
		_, err := NewVertexAIEmbedder(ctx, &Config{APIKey: ""})
		if err == nil {
			t.Fatal("Expected error with empty API key")
		}
		if !strings.Contains(err.Error(), "failed to create Gemini client") {
			t.Errorf("Expected Gemini client error, got: %v", err)
		}
	})
}

func TestVertexAIEmbedderEmbedWithNilClient(t *testing.T) {
	client := &VertexAIEmbedder{
		config: &Config{APIKey: "test-key", EmbedModel: "text-embedding-005", Dim: 768},
		client: nil,
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when calling Embed() with nil client")
		}
	}()

	_, _ = client.Embed(context.Background(), "test text")
}

func TestVertexAIEmbedderConcurrentConfigAccess(t *testing.T) {
	client := &VertexAIEmbedder{config: &Config{APIKey: "test-key", Dim: 512}}

	const numGoroutines = 100
	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer func() { done <- true }()
			if dim := client.Dim(); dim != 512 {
				t.Errorf("Expected dimension 512, got %d", dim)
			}
		}()
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}
}

func BenchmarkVertexAIEmbedderDim(b *testing.B) {
	client := &VertexAIEmbedder{config: &Config{APIKey: "test-key", Dim: 512}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.Dim()
	}
}
