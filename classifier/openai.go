package classifier

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/intent"
)

// ChatCompletionsClient mirrors the subset of the openai-go client this
// adapter needs, satisfied by the SDK's Chat.Completions service in
// production and a fake in tests.
type ChatCompletionsClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIOptions configures OpenAIPort.
type OpenAIOptions struct {
	Model string
}

// OpenAIPort implements Port on top of the OpenAI Chat Completions API.
type OpenAIPort struct {
	chat  ChatCompletionsClient
	model string
}

// NewOpenAIPort builds an OpenAIPort. chat is required; opts.Model defaults
// to GPT-4o mini, adequate for single-label classification.
func NewOpenAIPort(chat ChatCompletionsClient, opts OpenAIOptions) (*OpenAIPort, error) {
	if chat == nil {
		return nil, fmt.Errorf("classifier: openai chat client is required")
	}
	model := opts.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIPort{chat: chat, model: model}, nil
}

// Classify implements Port.
func (c *OpenAIPort) Classify(ctx context.Context, event eventmodel.UnifiedEvent, catalog []intent.Entry, pendingSuggestions []string) (Result, error) {
	prompt := classificationPrompt(event, catalog, pendingSuggestions)

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("classifier: openai returned no choices")
	}

	return parseClassificationJSON(resp.Choices[0].Message.Content)
}
