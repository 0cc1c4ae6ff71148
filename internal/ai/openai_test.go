package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTransport implements http.RoundTripper for testing.
type MockTransport struct {
	mu             sync.RWMutex
	responses      map[string]*http.Response
	responseBodies map[string]string
	requests       []*http.Request
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:      make(map[string]*http.Response),
		responseBodies: make(map[string]string),
		requests:       make([]*http.Request, 0),
	}
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	key := fmt.Sprintf("%s %s", req.Method, req.URL.String())

	if respData, exists := m.responses[key]; exists {
		body := m.responseBodies[key]
		return &http.Response{
			StatusCode: respData.StatusCode,
			Status:     respData.Status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     copyHeaders(respData.Header),
		}, nil
	}

	return &http.Response{
		StatusCode: 500,
		Status:     "500 Internal Server Error",
		Body:       io.NopCloser(strings.NewReader(`{"error": {"message": "Mock not configured"}}`)),
		Header:     make(http.Header),
	}, nil
}

func (m *MockTransport) AddResponse(method, url string, statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s %s", method, url)
	m.responses[key] = &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Header:     make(http.Header),
	}
	m.responseBodies[key] = body
}

func (m *MockTransport) GetRequests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	requests := make([]*http.Request, len(m.requests))
	copy(requests, m.requests)
	return requests
}

func copyHeaders(original http.Header) http.Header {
	out := make(http.Header)
	for key, values := range original {
		out[key] = append([]string(nil), values...)
	}
	return out
}

func createMockClient(transport *MockTransport) *OpenAIEmbedder {
	config := &Config{
		APIKey:     "test-api-key",
		EmbedModel: "text-embedding-3-small",
		Dim:        512,
		ProjectID:  "test-project",
	}
	client := NewOpenAIEmbedder(config)
	client.http = &http.Client{Transport: transport, Timeout: 20 * time.Second}
	return client
}

func TestNewOpenAIEmbedder(t *testing.T) {
	tests := []struct {
		name          string
		config        *Config
		expectedEmbed string
	}{
		{
			name:          "with model specified",
			config:        &Config{APIKey: "test-key", EmbedModel: "custom-embed-model", Dim: 768},
			expectedEmbed: "custom-embed-model",
		},
		{
			name:          "with default model",
			config:        &Config{APIKey: "test-key", Dim: 256},
			expectedEmbed: "text-embedding-3-small",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOpenAIEmbedder(tt.config)
			if client.config.EmbedModel != tt.expectedEmbed {
				t.Errorf("Expected EmbedModel '%s', got '%s'", tt.expectedEmbed, client.config.EmbedModel)
			}
			if client.http.Timeout != 20*time.Second {
				t.Errorf("Expected timeout 20s, got %v", client.http.Timeout)
			}
		})
	}
}

func TestOpenAIEmbedderEmbed(t *testing.T) {
	tests := []struct {
		name         string
		apiKey       string
		text         string
		statusCode   int
		responseBody string
		expectError  bool
		errorMsg     string
		expectedLen  int
	}{
		{
			name:        "missing API key",
			apiKey:      "",
			text:        "test text",
			expectError: true,
			errorMsg:    "PROVIDER_API_KEY unset",
		},
		{
			name:         "successful embedding",
			apiKey:       "test-key",
			text:         "test text",
			statusCode:   200,
			responseBody: `{"data": [{"embedding": [0.1, 0.2, 0.3, 0.4, 0.5]}]}`,
			expectedLen:  5,
		},
		{
			name:         "non-200 status code",
			apiKey:       "test-key",
			text:         "test text",
			statusCode:   400,
			responseBody: `{"error": {"message": "Bad request"}}`,
			expectError:  true,
			errorMsg:     "openai embedding non-200",
		},
		{
			name:         "empty data array",
			apiKey:       "test-key",
			text:         "test text",
			statusCode:   200,
			responseBody: `{"data": []}`,
			expectError:  true,
			errorMsg:     "no embedding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			if tt.statusCode != 0 {
				transport.AddResponse("POST", "https://api.openai.com/v1/embeddings", tt.statusCode, tt.responseBody)
			}

			config := &Config{APIKey: tt.apiKey, EmbedModel: "text-embedding-3-small", Dim: 512}
			client := NewOpenAIEmbedder(config)
			client.http = &http.Client{Transport: transport}

			vec, err := client.Embed(context.Background(), tt.text)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if len(vec) != tt.expectedLen {
				t.Errorf("Expected embedding length %d, got %d", tt.expectedLen, len(vec))
			}

			if tt.apiKey != "" {
				requests := transport.GetRequests()
				if len(requests) != 1 {
					t.Fatalf("Expected 1 request, got %d", len(requests))
				}
				req := requests[0]
				if req.Header.Get("Authorization") != "Bearer "+tt.apiKey {
					t.Errorf("Expected Authorization header 'Bearer %s', got '%s'", tt.apiKey, req.Header.Get("Authorization"))
				}
			}
		})
	}
}

func TestOpenAIEmbedderDim(t *testing.T) {
	tests := []struct {
		name        string
		configDim   int
		expectedDim int
	}{
		{"default dimension", 512, 512},
		{"custom dimension", 1536, 1536},
		{"zero dimension falls back", 0, 1536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOpenAIEmbedder(&Config{APIKey: "test-key", Dim: tt.configDim})
			if client.Dim() != tt.expectedDim {
				t.Errorf("Expected dimension %d, got %d", tt.expectedDim, client.Dim())
			}
		})
	}
}

func TestOpenAIEmbedderSetHeaders(t *testing.T) {
	tests := []struct {
		name                string
		apiKey              string
		projectID           string
		expectProjectHeader bool
	}{
		{"project key with project ID", "sk-proj-1234567890", "proj_test123", true},
		{"project key without project ID", "sk-proj-1234567890", "", false},
		{"standard key with project ID", "sk-1234567890", "proj_test123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOpenAIEmbedder(&Config{APIKey: tt.apiKey, ProjectID: tt.projectID, Dim: 512})
			req, _ := http.NewRequest("POST", "https://example.com", nil)
			client.setHeaders(req)

			if req.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got '%s'", req.Header.Get("Content-Type"))
			}
			if req.Header.Get("Authorization") != "Bearer "+tt.apiKey {
				t.Errorf("Expected Authorization 'Bearer %s', got '%s'", tt.apiKey, req.Header.Get("Authorization"))
			}
			projectHeader := req.Header.Get("OpenAI-Project")
			if tt.expectProjectHeader && projectHeader != tt.projectID {
				t.Errorf("Expected OpenAI-Project header '%s', got '%s'", tt.projectID, projectHeader)
			}
			if !tt.expectProjectHeader && projectHeader != "" {
				t.Errorf("Expected no OpenAI-Project header, got '%s'", projectHeader)
			}
		})
	}
}

func TestOpenAIEmbedderHTTPTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data": [{"embedding": [0.1, 0.2]}]}`))
	}))
	defer server.Close()

	client := NewOpenAIEmbedder(&Config{APIKey: "test-key", EmbedModel: "test-model", Dim: 512})
	client.http.Timeout = 1 * time.Millisecond
	client.http.Transport = &redirectTransport{target: server.URL}

	_, err := client.Embed(context.Background(), "test text")
	if err == nil {
		t.Error("Expected timeout error but got none")
	}
}

type redirectTransport struct {
	target string
	orig   http.RoundTripper
}

func (rt *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.Contains(req.URL.Host, "api.openai.com") {
		req.URL.Scheme = "http"
		req.URL.Host = strings.TrimPrefix(rt.target, "http://")
	}
	if rt.orig != nil {
		return rt.orig.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestOpenAIEmbedderConcurrentRequests(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", "https://api.openai.com/v1/embeddings", 200,
		`{"data": [{"embedding": [0.1, 0.2, 0.3]}]}`)
	client := createMockClient(transport)

	const numGoroutines = 10
	done := make(chan bool, numGoroutines)
	errCh := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()
			vec, err := client.Embed(context.Background(), fmt.Sprintf("test text %d", id))
			if err != nil {
				errCh <- err
				return
			}
			if len(vec) != 3 {
				errCh <- fmt.Errorf("expected embedding length 3, got %d", len(vec))
			}
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}
	close(errCh)
	for err := range errCh {
		t.Errorf("Concurrent request error: %v", err)
	}

	requests := transport.GetRequests()
	if len(requests) != numGoroutines {
		t.Errorf("Expected %d requests, got %d", numGoroutines, len(requests))
	}
}

func TestOpenAIEmbedderInterfaceCompliance(t *testing.T) {
	var _ Embedder = &OpenAIEmbedder{}
	client := NewOpenAIEmbedder(&Config{APIKey: "test-key", Dim: 512})
	if client.Dim() != 512 {
		t.Errorf("Expected Dim() to return 512, got %d", client.Dim())
	}
}

func TestOpenAIEmbedderEdgeCases(t *testing.T) {
	t.Run("empty text embedding", func(t *testing.T) {
		transport := NewMockTransport()
		transport.AddResponse("POST", "https://api.openai.com/v1/embeddings", 200, `{"data": [{"embedding": []}]}`)
		client := createMockClient(transport)

		vec, err := client.Embed(context.Background(), "")
		if err != nil {
			t.Errorf("Expected no error for empty text, got: %v", err)
		}
		if len(vec) != 0 {
			t.Errorf("Expected empty embedding array, got length %d", len(vec))
		}
	})

	t.Run("very long text embedding", func(t *testing.T) {
		transport := NewMockTransport()
		transport.AddResponse("POST", "https://api.openai.com/v1/embeddings", 200, `{"data": [{"embedding": [0.1, 0.2]}]}`)
		client := createMockClient(transport)

		longText := strings.Repeat("a", 100000)
		vec, err := client.Embed(context.Background(), longText)
		if err != nil {
			t.Errorf("Expected no error for long text, got: %v", err)
		}
		if len(vec) != 2 {
			t.Errorf("Expected embedding length 2, got %d", len(vec))
		}
	})
}

func BenchmarkNewOpenAIEmbedder(b *testing.B) {
	config := &Config{APIKey: "test-key", Dim: 512}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewOpenAIEmbedder(config)
	}
}
