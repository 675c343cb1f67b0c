package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hurttlocker/canon/internal/llm"
)

const (
	// callTimeout bounds a single LLM call. Long chunks on slower models can
	// take over a minute.
	callTimeout = 3 * time.Minute

	extractMaxTokens       = 8192
	contradictionMaxTokens = 2048
)

// Caller is the black-box LLM step: send text, get back the decoded but
// untrusted JSON value and the id of the model that produced it.
type Caller interface {
	CallLLM(ctx context.Context, text string) (raw any, modelID string, err error)
}

// ProviderCaller adapts an llm.Provider into a Caller with a fixed system
// prompt and JSON schema.
type ProviderCaller struct {
	provider llm.Provider
	opts     llm.CompletionOpts
	op       string
}

// NewExtractionCaller calls provider with the canon extraction prompt.
func NewExtractionCaller(provider llm.Provider) *ProviderCaller {
	return &ProviderCaller{
		provider: provider,
		op:       "extract",
		opts: llm.CompletionOpts{
			System:      extractionSystemPrompt,
			Schema:      extractionSchema,
			SchemaName:  extractionSchemaName,
			Temperature: 0.1,
			MaxTokens:   extractMaxTokens,
		},
	}
}

// NewContradictionCaller calls provider with the contradiction-check prompt.
func NewContradictionCaller(provider llm.Provider) *ProviderCaller {
	return &ProviderCaller{
		provider: provider,
		op:       "check contradictions",
		opts: llm.CompletionOpts{
			System:      contradictionSystemPrompt,
			Schema:      contradictionSchema,
			SchemaName:  contradictionSchemaName,
			Temperature: 0.1,
			MaxTokens:   contradictionMaxTokens,
		},
	}
}

// CallLLM implements Caller. Transport and status failures become API
// errors; unparseable content becomes a validation error.
func (c *ProviderCaller) CallLLM(ctx context.Context, text string) (any, string, error) {
	if c == nil || c.provider == nil {
		return nil, "", ConfigurationError(c.opName(), fmt.Errorf("LLM provider is nil"))
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	content, err := c.provider.Complete(callCtx, text, c.opts)
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, "", ConfigurationError(c.op, err)
		}
		return nil, "", APIError(c.op, fmt.Errorf("LLM call failed: %w", err))
	}

	raw, err := ParseLLMContent(content)
	if err != nil {
		return nil, "", err
	}
	return raw, c.provider.Name(), nil
}

func (c *ProviderCaller) opName() string {
	if c == nil || c.op == "" {
		return "extract"
	}
	return c.op
}
