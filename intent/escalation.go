package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var amountToken = regexp.MustCompile(`-?\d+(\.\d+)?`)

// Evaluate reports whether entry's escalation rule fires against content.
// An empty rule never fires. Three forms are recognized:
//
//	{always}                 always fires
//	{amount_gt:500}           fires if the largest numeric token in content
//	                          exceeds 500
//	{keywords:[urgent,refund]} fires if content contains any keyword,
//	                          case-insensitively
//
// An unrecognized rule is treated as non-firing rather than an error, since
// a malformed catalog entry must not block dispatch of every event that
// happens to match it.
func Evaluate(rule string, content string) bool {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return false
	}
	if !strings.HasPrefix(rule, "{") || !strings.HasSuffix(rule, "}") {
		return false
	}
	body := rule[1 : len(rule)-1]

	switch {
	case body == "always":
		return true

	case strings.HasPrefix(body, "amount_gt:"):
		thresholdStr := strings.TrimPrefix(body, "amount_gt:")
		threshold, err := strconv.ParseFloat(strings.TrimSpace(thresholdStr), 64)
		if err != nil {
			return false
		}
		return maxAmount(content) > threshold

	case strings.HasPrefix(body, "keywords:"):
		listStr := strings.TrimPrefix(body, "keywords:")
		listStr = strings.TrimSpace(listStr)
		listStr = strings.TrimPrefix(listStr, "[")
		listStr = strings.TrimSuffix(listStr, "]")
		for _, kw := range strings.Split(listStr, ",") {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(strings.ToLower(content), strings.ToLower(kw)) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// maxAmount extracts every numeric token from content and returns the
// largest, or 0 if none are present.
func maxAmount(content string) float64 {
	matches := amountToken.FindAllString(content, -1)
	var max float64
	found := false
	for _, m := range matches {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max
}
