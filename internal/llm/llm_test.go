package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseLLMFlag(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantProv string
		wantMod  string
		wantErr  bool
	}{
		{"empty defaults to google", "", "google", "gemini-2.5-flash", false},
		{"google pro", "google/gemini-2.5-pro", "google", "gemini-2.5-pro", false},
		{"openrouter model", "openrouter/openai/gpt-4o-mini", "openrouter", "openai/gpt-4o-mini", false},
		{"ollama", "ollama/llama3.1", "ollama", "llama3.1", false},
		{"case insensitive provider", "OpenAI/gpt-4o", "openai", "gpt-4o", false},
		{"unknown provider", "anthropic/claude-4", "", "", true},
		{"no slash", "gemini-2.5-flash", "", "", true},
		{"empty model", "google/", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseLLMFlag(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Provider != tt.wantProv {
				t.Errorf("provider: got %q, want %q", cfg.Provider, tt.wantProv)
			}
			if cfg.Model != tt.wantMod {
				t.Errorf("model: got %q, want %q", cfg.Model, tt.wantMod)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	_, err := NewProvider(Config{Provider: "unknown"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	_, err = NewProvider(Config{Provider: "google"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey for google, got %v", err)
	}

	t.Setenv("OPENROUTER_API_KEY", "")
	_, err = NewProvider(Config{Provider: "openrouter"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey for openrouter, got %v", err)
	}

	p, err := NewProvider(Config{Provider: "ollama"})
	if err != nil {
		t.Fatalf("ollama should not need a key: %v", err)
	}
	if p.Name() != "ollama/llama3.1" {
		t.Errorf("unexpected name: %q", p.Name())
	}
}

func TestNewProviderReadsEnvKey(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	p, err := NewProvider(Config{Provider: "deepseek", Model: "deepseek-reasoner"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cp, ok := p.(*chatProvider)
	if !ok {
		t.Fatalf("expected *chatProvider, got %T", p)
	}
	if cp.apiKey != "sk-test" || cp.baseURL != "https://api.deepseek.com/v1" {
		t.Errorf("unexpected provider config: key=%q base=%q", cp.apiKey, cp.baseURL)
	}
}

const googleReply = `{"candidates":[{"content":{"parts":[{"text":"{\"entities\":[]}"}]}}]}`

func TestGoogleProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/models/gemini-2.5-flash:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}

		var req googleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Contents) == 0 || req.Contents[0].Parts[0].Text != "test prompt" {
			t.Errorf("unexpected contents: %+v", req.Contents)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "extract facts" {
			t.Errorf("system instruction not forwarded")
		}
		if req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("expected JSON mime type, got %q", req.GenerationConfig.ResponseMimeType)
		}
		if len(req.GenerationConfig.ResponseJSONSchema) == 0 {
			t.Errorf("expected response schema to be forwarded")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(googleReply))
	}))
	defer server.Close()

	p := &googleProvider{apiKey: "test-key", model: "gemini-2.5-flash", baseURL: server.URL}

	result, err := p.Complete(context.Background(), "test prompt", CompletionOpts{
		System: "extract facts",
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `{"entities":[]}` {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestGoogleProviderEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	p := &googleProvider{apiKey: "k", model: "m", baseURL: server.URL}
	_, err := p.Complete(context.Background(), "x", CompletionOpts{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestChatProviderJSONSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-or" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if r.Header.Get("X-Title") == "" {
			t.Errorf("openrouter attribution header missing")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Fatalf("expected json_schema response format, got %+v", req.ResponseFormat)
		}
		if req.ResponseFormat.JSONSchema.Name != "canon_extraction" || !req.ResponseFormat.JSONSchema.Strict {
			t.Errorf("unexpected schema envelope: %+v", req.ResponseFormat.JSONSchema)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system + user messages, got %+v", req.Messages)
		}
		w.Write([]byte(`{"id":"x","choices":[{"message":{"content":"  {\"facts\":[]}  "}}]}`))
	}))
	defer server.Close()

	p := &chatProvider{provider: "openrouter", apiKey: "sk-or", model: "openai/gpt-4o-mini", baseURL: server.URL}
	got, err := p.Complete(context.Background(), "doc", CompletionOpts{
		System:     "sys",
		Schema:     json.RawMessage(`{"type":"object"}`),
		SchemaName: "canon_extraction",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"facts":[]}` {
		t.Errorf("unexpected content: %q", got)
	}
	if p.Name() != "openrouter/openai/gpt-4o-mini" {
		t.Errorf("unexpected name: %q", p.Name())
	}
}

func TestChatProviderStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	p := &chatProvider{provider: "openai", model: "gpt-4o-mini", baseURL: server.URL}
	_, err := p.Complete(context.Background(), "doc", CompletionOpts{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusTooManyRequests || se.Provider != "openai" {
		t.Errorf("unexpected status error: %+v", se)
	}
}

type stubProvider struct {
	calls atomic.Int32
	err   error
}

func (s *stubProvider) Name() string { return "stub/model" }

func (s *stubProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubProvider{err: &StatusError{Provider: "stub", StatusCode: 503}}
	p := WithBreaker(stub, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := p.Complete(context.Background(), "x", CompletionOpts{}); err == nil {
			t.Fatal("expected provider error")
		}
	}
	_, err := p.Complete(context.Background(), "x", CompletionOpts{})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if n := stub.calls.Load(); n != 2 {
		t.Errorf("inner provider called %d times, want 2", n)
	}
	if p.Name() != "stub/model" {
		t.Errorf("breaker should keep inner name, got %q", p.Name())
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	stub := &stubProvider{err: &StatusError{Provider: "stub", StatusCode: 400}}
	p := WithBreaker(stub, BreakerConfig{ConsecutiveFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := p.Complete(context.Background(), "x", CompletionOpts{})
		if errors.Is(err, ErrBreakerOpen) {
			t.Fatalf("breaker opened on a 400 reply at call %d", i)
		}
	}
	if n := stub.calls.Load(); n != 3 {
		t.Errorf("inner provider called %d times, want 3", n)
	}
}
