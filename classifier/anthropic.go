package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/intent"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter needs, satisfied by *sdk.MessageService in production and a fake
// in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures AnthropicPort.
type AnthropicOptions struct {
	Model     string
	MaxTokens int64
}

// AnthropicPort implements Port on top of Claude Messages: the catalog and
// event are rendered into a single prompt instructing the model to answer
// with a strict JSON object, which is then parsed back into a Result.
type AnthropicPort struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// NewAnthropicPort builds an AnthropicPort. msg is required; opts.Model
// defaults to Claude Haiku (cheap, adequate for single-label
// classification), opts.MaxTokens defaults to 512.
func NewAnthropicPort(msg MessagesClient, opts AnthropicOptions) (*AnthropicPort, error) {
	if msg == nil {
		return nil, fmt.Errorf("classifier: anthropic messages client is required")
	}
	model := opts.Model
	if model == "" {
		model = string(sdk.ModelClaude3_5HaikuLatest)
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicPort{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// Classify implements Port.
func (c *AnthropicPort) Classify(ctx context.Context, event eventmodel.UnifiedEvent, catalog []intent.Entry, pendingSuggestions []string) (Result, error) {
	prompt := classificationPrompt(event, catalog, pendingSuggestions)

	msg, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseClassificationJSON(text.String())
}

// classificationPrompt renders the catalog and event into the single-shot
// prompt every LLM adapter shares.
func classificationPrompt(event eventmodel.UnifiedEvent, catalog []intent.Entry, pendingSuggestions []string) string {
	var b strings.Builder
	b.WriteString("You are classifying an inbound event into one of a fixed set of intents, or proposing a new one.\n\n")
	b.WriteString("Known intents (name: description):\n")
	for _, e := range intent.SortByPriorityDescending(catalog) {
		if !e.Active {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Description)
	}
	if len(pendingSuggestions) > 0 {
		b.WriteString("\nAlready-proposed new intents awaiting review (do not propose these again):\n")
		for _, name := range pendingSuggestions {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	b.WriteString("\nEvent content:\n")
	if subject := event.Metadata["subject"]; subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", subject)
	}
	b.WriteString(event.Content)
	b.WriteString("\n\nRespond with exactly one JSON object and nothing else, matching this shape:\n")
	b.WriteString(`{"matched_intent": "<name or null>", "confidence": <0..1>, "reasoning": "<short text>", "new_suggestion": null or {"name": "...", "label": "...", "description": "...", "handler_hint": "agent|workflow"}}`)
	return b.String()
}

type classificationResponse struct {
	MatchedIntent *string         `json:"matched_intent"`
	Confidence    float64         `json:"confidence"`
	Reasoning     string          `json:"reasoning"`
	NewSuggestion *NewSuggestion  `json:"new_suggestion"`
}

// parseClassificationJSON decodes the shared LLM response shape. A
// malformed response is treated as a classifier failure, not a fatal
// error, so the caller can fall back per spec.md §4.G.
func parseClassificationJSON(text string) (Result, error) {
	text = extractJSONObject(text)
	var parsed classificationResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return Result{}, fmt.Errorf("classifier: parse model response: %w", err)
	}
	result := Result{
		Confidence:    parsed.Confidence,
		Reasoning:     parsed.Reasoning,
		NewSuggestion: parsed.NewSuggestion,
	}
	if parsed.MatchedIntent != nil {
		result.MatchedIntent = *parsed.MatchedIntent
	}
	return result, nil
}

// extractJSONObject trims any leading/trailing prose a model adds around
// the JSON object despite instructions, by slicing from the first '{' to
// the matching last '}'.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
