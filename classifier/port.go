// Package classifier implements the Classifier Port: given an event and the
// active intent catalog, decide which intent applies (or propose a new
// one). Any adapter satisfying Port — rule-based, embedding-similarity, or
// an LLM — may be substituted; the dispatcher depends only on the
// interface.
package classifier

import (
	"context"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/intent"
)

// NewSuggestion is the classifier's proposal for an intent not yet present
// in the catalog.
type NewSuggestion struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	HandlerHint string `json:"handler_hint"`
}

// Result is the classifier's verdict for one event.
type Result struct {
	MatchedIntent string
	Confidence    float64
	Reasoning     string
	NewSuggestion *NewSuggestion
}

// Port is the pure classification contract. Determinism and idempotence are
// not required: callers cache results by EventRow id rather than relying on
// repeated calls returning the same answer.
type Port interface {
	// Classify decides the intent for event, given the active catalog
	// (sorted by priority descending) and the names of intents already
	// proposed-but-pending, so adapters can avoid duplicate suggestions.
	Classify(ctx context.Context, event eventmodel.UnifiedEvent, catalog []intent.Entry, pendingSuggestions []string) (Result, error)
}

// Failed is the result callers substitute when a Port implementation
// returns an error or exceeds its deadline — never a dispatcher-halting
// failure.
func Failed(cause error) Result {
	reasoning := "classifier_failed"
	if cause != nil {
		reasoning = "classifier_failed:" + cause.Error()
	}
	return Result{
		MatchedIntent: intent.FallbackName,
		Confidence:    0.0,
		Reasoning:     reasoning,
	}
}
