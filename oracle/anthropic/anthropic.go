// Package anthropic provides an Oracle backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/oracle"
)

// Options configures the Anthropic oracle adapter (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Oracle wraps the Anthropic Messages API behind the generic oracle.Oracle
// interface. Each Generate issues exactly one non-streaming call.
type Oracle struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic oracle using the official client.
func New(optFns ...func(o *Options)) *Oracle {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Oracle{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic oracle from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Oracle {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Oracle{client: client, opts: opts}
}

// Generate implements oracle.Oracle. The persona is rendered into the system
// prompt; the prompt becomes the sole user message.
func (o *Oracle) Generate(ctx context.Context, persona core.AgentPersona, prompt string, optFns ...func(g *oracle.GenerateOptions)) (string, error) {
	var gen oracle.GenerateOptions
	for _, fn := range optFns {
		fn(&gen)
	}

	params := anthropic.MessageNewParams{
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: anthropic.Float(o.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: oracle.SystemPrompt(persona, gen.SystemInstructions)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	resp, err := o.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	if b.Len() == 0 {
		return "", oracle.NewError(oracle.KindInvalidResponse, "anthropic", errors.New("empty completion"))
	}

	return b.String(), nil
}

// classify maps SDK / transport failures onto the oracle error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return oracle.NewError(oracle.KindTimeout, "anthropic", err)
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return oracle.NewError(oracle.KindRateLimited, "anthropic", err)
		case apierr.StatusCode >= 500:
			return oracle.NewError(oracle.KindProviderUnavailable, "anthropic", err)
		default:
			return oracle.NewError(oracle.KindInvalidResponse, "anthropic", err)
		}
	}
	return oracle.NewError(oracle.KindProviderUnavailable, "anthropic", err)
}
