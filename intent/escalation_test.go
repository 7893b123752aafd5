package intent

import "testing"

func TestEvaluateAlways(t *testing.T) {
	if !Evaluate("{always}", "anything") {
		t.Fatal("expected always to fire")
	}
}

func TestEvaluateAmountGt(t *testing.T) {
	cases := []struct {
		rule    string
		content string
		want    bool
	}{
		{"{amount_gt:500}", "invoice total: $1200.50 due", true},
		{"{amount_gt:500}", "invoice total: $42 due", false},
		{"{amount_gt:500}", "no numbers here", false},
		{"{amount_gt:not-a-number}", "$9999", false},
	}
	for _, c := range cases {
		if got := Evaluate(c.rule, c.content); got != c.want {
			t.Errorf("Evaluate(%q, %q) = %v, want %v", c.rule, c.content, got, c.want)
		}
	}
}

func TestEvaluateKeywords(t *testing.T) {
	if !Evaluate("{keywords:[urgent,refund]}", "please issue a REFUND asap") {
		t.Fatal("expected case-insensitive keyword match to fire")
	}
	if Evaluate("{keywords:[urgent,refund]}", "just a normal update") {
		t.Fatal("expected no keyword match")
	}
}

func TestEvaluateEmptyAndMalformed(t *testing.T) {
	if Evaluate("", "content") {
		t.Fatal("empty rule must never fire")
	}
	if Evaluate("always", "content") {
		t.Fatal("rule missing braces must not fire")
	}
	if Evaluate("{unknown_form}", "content") {
		t.Fatal("unrecognized rule must not fire")
	}
}

func TestSortByPriorityDescending(t *testing.T) {
	entries := []Entry{
		{Name: "low", Priority: 1},
		{Name: "high", Priority: 10},
		{Name: "mid", Priority: 5},
	}
	sorted := SortByPriorityDescending(entries)
	if sorted[0].Name != "high" || sorted[1].Name != "mid" || sorted[2].Name != "low" {
		t.Fatalf("unexpected order: %+v", sorted)
	}
	if entries[0].Name != "low" {
		t.Fatal("SortByPriorityDescending must not mutate its input")
	}
}
