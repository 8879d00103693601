package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured
const DefaultModel = "claude-3-5-haiku-latest"

// AnthropicLabeler asks a Claude model for a label
type AnthropicLabeler struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLabeler creates a labeler for the given API key and model
func NewAnthropicLabeler(apiKey, model string) (*AnthropicLabeler, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	// The caller bounds the whole call with a timeout; one retry is enough.
	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(1))

	return &AnthropicLabeler{
		client: &client,
		model:  model,
	}, nil
}

// Label sends the excerpt with the labeling instruction and returns the
// text of the reply
func (l *AnthropicLabeler) Label(ctx context.Context, excerpt string) (string, error) {
	message, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: 32,
		System: []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: Instruction,
			},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(excerpt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var sb strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic response contained no text")
	}
	return sb.String(), nil
}
