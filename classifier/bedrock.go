package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/intent"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// adapter needs, satisfied by *bedrockruntime.Client in production and a
// fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures BedrockPort.
type BedrockOptions struct {
	Runtime   RuntimeClient
	ModelID   string
	MaxTokens int32
}

// BedrockPort implements Port on top of AWS Bedrock's Converse API, for
// deployments that standardize on Bedrock-hosted models rather than a
// direct Anthropic or OpenAI account.
type BedrockPort struct {
	runtime   RuntimeClient
	modelID   string
	maxTokens int32
}

// NewBedrockPort builds a BedrockPort.
func NewBedrockPort(opts BedrockOptions) (*BedrockPort, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("classifier: bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, fmt.Errorf("classifier: bedrock model id is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &BedrockPort{runtime: opts.Runtime, modelID: opts.ModelID, maxTokens: maxTokens}, nil
}

// Classify implements Port.
func (c *BedrockPort) Classify(ctx context.Context, event eventmodel.UnifiedEvent, catalog []intent.Entry, pendingSuggestions []string) (Result, error) {
	prompt := classificationPrompt(event, catalog, pendingSuggestions)

	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: &c.modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: &c.maxTokens},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Result{}, fmt.Errorf("classifier: bedrock converse returned no message")
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(tb.Value)
		}
	}

	return parseClassificationJSON(text.String())
}
