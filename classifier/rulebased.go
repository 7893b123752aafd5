package classifier

import (
	"context"
	"strings"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/intent"
)

// RuleBased is the deterministic default Port implementation: it matches an
// event's content against each active catalog entry's keywords and
// exemplars, picking the highest-priority entry with any match. It never
// proposes a new intent — that is left to an LLM-backed adapter, or to a
// human reviewing unmatched traffic.
type RuleBased struct{}

// NewRuleBased builds the keyword-matching default classifier.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// Classify implements Port.
func (RuleBased) Classify(ctx context.Context, event eventmodel.UnifiedEvent, catalog []intent.Entry, pendingSuggestions []string) (Result, error) {
	haystack := strings.ToLower(event.Content)
	if subject := event.Metadata["subject"]; subject != "" {
		haystack = strings.ToLower(subject) + "\n" + haystack
	}

	sorted := intent.SortByPriorityDescending(catalog)
	for _, entry := range sorted {
		if !entry.Active || entry.Name == intent.FallbackName {
			continue
		}
		if matchesKeywords(haystack, entry.Keywords) || matchesKeywords(haystack, entry.Exemplars) {
			return Result{
				MatchedIntent: entry.Name,
				Confidence:    0.6,
				Reasoning:     "rule_based:keyword_match",
			}, nil
		}
	}

	return Result{
		MatchedIntent: intent.FallbackName,
		Confidence:    0.0,
		Reasoning:     "rule_based:no_match",
	}, nil
}

func matchesKeywords(haystack string, terms []string) bool {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}
