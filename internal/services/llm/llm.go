// Package llm implements C2: content normalization and summary generation
// against an LLM provider (spec §4.5 nodes "LLM-Attachments"/"LLM-Email"/
// "Summary"). No example repo ships a concrete Anthropic integration to
// ground the wire format on, so this follows anthropic-sdk-go's own
// documented client shape; the retry/timeout scaffolding
// around it mirrors the teacher's external-call discipline elsewhere (OCR
// worker supervision, IMAP dial timeouts).
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"
)

// LLMEngine is the C2 abstraction (spec §2 table).
type LLMEngine interface {
	// Complete sends a single-turn prompt and returns the model's text
	// response, truncated by the caller's token budget.
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error)
}

type AnthropicEngine struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

func NewAnthropicEngine(apiKey string, model anthropic.Model, timeout time.Duration) *AnthropicEngine {
	return &AnthropicEngine{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
	}
}

// DefaultModel is used when configuration does not name one explicitly.
const DefaultModel = anthropic.ModelClaudeSonnet4_5

func (e *AnthropicEngine) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if maxTokens <= 0 {
		maxTokens = 4096
	}

	op := func() (string, error) {
		params := anthropic.MessageNewParams{
			Model:     e.model,
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		}
		if systemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
		}

		msg, err := e.client.Messages.New(ctx, params)
		if err != nil {
			return "", err
		}
		var out string
		for _, block := range msg.Content {
			if block.Type == "text" {
				out += block.Text
			}
		}
		return out, nil
	}

	text, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return "", fmt.Errorf("llm: complete: %w", err)
	}
	return text, nil
}
