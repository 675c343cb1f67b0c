// Package llm provides a provider-agnostic chat-completion adapter.
// Extraction calls go through Provider; the concrete backends speak the
// OpenAI-compatible chat API (OpenRouter, OpenAI, DeepSeek, Ollama) or the
// Google Gemini REST API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns "provider/model", used as the cache model id.
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Model       string  // Override model for this request (empty = use provider default)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // System prompt (optional)

	// Schema, when set, requests strict JSON-schema output named SchemaName.
	Schema     json.RawMessage
	SchemaName string
}

// Config holds provider configuration.
type Config struct {
	Provider string // "google", "openrouter", "openai", "deepseek", "ollama"
	Model    string
	APIKey   string // API key (empty = read from env)
	BaseURL  string // Optional URL override
	Timeout  time.Duration
}

// ErrMissingAPIKey is returned by NewProvider when no key could be found.
var ErrMissingAPIKey = errors.New("missing API key")

// ErrEmptyResponse means the provider answered 2xx without any content.
var ErrEmptyResponse = errors.New("empty response content")

// StatusError is a non-2xx reply from the provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, truncate(e.Body, 500))
}

type openAICompatDefaults struct {
	baseURL string
	envKeys []string
	model   string
	keyless bool
}

var openAICompat = map[string]openAICompatDefaults{
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", envKeys: []string{"OPENROUTER_API_KEY"}, model: "openai/gpt-4o-mini"},
	"openai":     {baseURL: "https://api.openai.com/v1", envKeys: []string{"OPENAI_API_KEY"}, model: "gpt-4o-mini"},
	"deepseek":   {baseURL: "https://api.deepseek.com/v1", envKeys: []string{"DEEPSEEK_API_KEY"}, model: "deepseek-chat"},
	"ollama":     {baseURL: "http://localhost:11434/v1", model: "llama3.1", keyless: true},
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))

	if name == "google" {
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY env var: %w", ErrMissingAPIKey)
		}
		return &googleProvider{
			apiKey:  key,
			model:   firstNonEmpty(cfg.Model, "gemini-2.5-flash"),
			baseURL: firstNonEmpty(cfg.BaseURL, "https://generativelanguage.googleapis.com/v1beta"),
			timeout: timeout,
		}, nil
	}

	d, ok := openAICompat[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: %s)", cfg.Provider, strings.Join(SupportedProviders(), ", "))
	}
	key := cfg.APIKey
	for _, env := range d.envKeys {
		key = firstNonEmpty(key, os.Getenv(env))
	}
	if key == "" && !d.keyless {
		return nil, fmt.Errorf("%s provider requires %s env var: %w", name, strings.Join(d.envKeys, " or "), ErrMissingAPIKey)
	}
	return &chatProvider{
		provider: name,
		apiKey:   key,
		model:    firstNonEmpty(cfg.Model, d.model),
		baseURL:  strings.TrimRight(firstNonEmpty(cfg.BaseURL, d.baseURL), "/"),
		timeout:  timeout,
	}, nil
}

// SupportedProviders lists provider names accepted by NewProvider.
func SupportedProviders() []string {
	return []string{"google", "openrouter", "openai", "deepseek", "ollama"}
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "google/gemini-2.5-flash", "openrouter/openai/gpt-4o-mini"
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "google", Model: "gemini-2.5-flash"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., google/gemini-2.5-flash)", flag)
	}

	provider := strings.ToLower(parts[0])
	if provider != "google" {
		if _, ok := openAICompat[provider]; !ok {
			return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: %s)", provider, strings.Join(SupportedProviders(), ", "))
		}
	}
	return Config{Provider: provider, Model: parts[1]}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
