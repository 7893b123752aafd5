package classifier

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/eventmodel"
)

type fakeChatCompletionsClient struct {
	response *openai.ChatCompletion
	err      error
}

func (f *fakeChatCompletionsClient) New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestOpenAIPortParsesChatCompletionResponse(t *testing.T) {
	fake := &fakeChatCompletionsClient{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Content: `{"matched_intent": "billing_question", "confidence": 0.7, "reasoning": "invoice mention", "new_suggestion": null}`,
					},
				},
			},
		},
	}
	port, err := NewOpenAIPort(fake, OpenAIOptions{})
	require.NoError(t, err)

	result, err := port.Classify(context.Background(), eventmodel.UnifiedEvent{Content: "where is my invoice"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "billing_question", result.MatchedIntent)
	require.InDelta(t, 0.7, result.Confidence, 0.001)
}

func TestOpenAIPortErrorsOnEmptyChoices(t *testing.T) {
	fake := &fakeChatCompletionsClient{response: &openai.ChatCompletion{}}
	port, err := NewOpenAIPort(fake, OpenAIOptions{})
	require.NoError(t, err)

	_, err = port.Classify(context.Background(), eventmodel.UnifiedEvent{Content: "hi"}, nil, nil)
	require.Error(t, err)
}

func TestNewOpenAIPortRejectsNilClient(t *testing.T) {
	_, err := NewOpenAIPort(nil, OpenAIOptions{})
	require.Error(t, err)
}
