// Package openai provides an Oracle backed by the OpenAI Chat Completions
// API. It adapts Agora's persona + prompt shape into the SDK's message
// format and classifies API failures into the oracle error taxonomy.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/oracle"
)

// Options configure the OpenAI oracle adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Oracle wraps the OpenAI Chat Completions API behind the generic
// oracle.Oracle interface. Each Generate issues exactly one non-streaming
// call.
type Oracle struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI oracle using the official client.
func New(optFns ...func(o *Options)) *Oracle {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI oracle from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Oracle {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Oracle{client: client, opts: opts}
}

// Generate implements oracle.Oracle.
func (o *Oracle) Generate(ctx context.Context, persona core.AgentPersona, prompt string, optFns ...func(g *oracle.GenerateOptions)) (string, error) {
	var gen oracle.GenerateOptions
	for _, fn := range optFns {
		fn(&gen)
	}

	params := openai.ChatCompletionNewParams{
		Model:               o.opts.Model,
		Temperature:         openai.Float(o.opts.Temperature),
		MaxCompletionTokens: openai.Int(o.opts.MaxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(oracle.SystemPrompt(persona, gen.SystemInstructions)),
			openai.UserMessage(prompt),
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", oracle.NewError(oracle.KindInvalidResponse, "openai", errors.New("no completion choices"))
	}

	return resp.Choices[0].Message.Content, nil
}

// classify maps SDK / transport failures onto the oracle error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return oracle.NewError(oracle.KindTimeout, "openai", err)
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return oracle.NewError(oracle.KindRateLimited, "openai", err)
		case apierr.StatusCode >= 500:
			return oracle.NewError(oracle.KindProviderUnavailable, "openai", err)
		default:
			return oracle.NewError(oracle.KindInvalidResponse, "openai", err)
		}
	}
	return oracle.NewError(oracle.KindProviderUnavailable, "openai", err)
}
