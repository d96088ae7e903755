package netindex

import (
	"testing"

	"ruleengine/internal/reqmodel"
	"ruleengine/internal/rule"
	"ruleengine/internal/rulestorage"
)

func buildIndex(t *testing.T, lines string, hostsMode bool) (*Index, *rulestorage.RuleStorage) {
	t.Helper()
	storage := rulestorage.New()
	storage.AddList(1, lines)
	idx := New(storage)

	sc := storage.CreateScanner(rulestorage.ScanAll, hostsMode)
	for sc.Scan() {
		ir, ok := sc.GetRule()
		if !ok {
			continue
		}
		if ir.Rule.Kind == rule.KindNetwork {
			idx.AddRule(ir.Rule.Network, ir.Index)
		}
	}
	return idx, storage
}

// TestBasicBlocking checks that a single "||example.org^" rule matches a
// request for https://example.org/ exactly once.
func TestBasicBlocking(t *testing.T) {
	idx, _ := buildIndex(t, "||example.org^", false)

	req := reqmodel.New("https://example.org/", "", reqmodel.TypeDocument, "")
	got := idx.MatchAll(req)
	if len(got) != 1 {
		t.Fatalf("MatchAll returned %d candidates, want 1: %v", len(got), got)
	}
	if got[0].Rule.Flags.Whitelist {
		t.Errorf("expected a blocking rule, got whitelist")
	}
}

func TestMatchAllNoMatch(t *testing.T) {
	idx, _ := buildIndex(t, "||example.org^", false)
	req := reqmodel.New("https://unrelated.com/", "", reqmodel.TypeDocument, "")
	if got := idx.MatchAll(req); len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}

// TestShortcutIdempotence checks that inserting the same rule twice
// increments the rule count by 2, and MatchAll returns each storage
// occurrence (dedup happens at the reducer, not here).
func TestShortcutIdempotence(t *testing.T) {
	idx, _ := buildIndex(t, "||example.org^\n||example.org^", false)

	if idx.RulesCount() != 2 {
		t.Fatalf("RulesCount = %d, want 2", idx.RulesCount())
	}

	req := reqmodel.New("https://example.org/", "", reqmodel.TypeDocument, "")
	got := idx.MatchAll(req)
	if len(got) != 2 {
		t.Fatalf("MatchAll returned %d candidates, want 2 (one per storage occurrence): %v", len(got), got)
	}
}

func TestDomainRestriction(t *testing.T) {
	idx, _ := buildIndex(t, "||ads.example.com^$domain=example.org", false)

	blocked := reqmodel.New("https://ads.example.com/x", "https://example.org/", reqmodel.TypeScript, "")
	if got := idx.MatchAll(blocked); len(got) != 1 {
		t.Errorf("expected a match for the permitted source domain, got %v", got)
	}

	notBlocked := reqmodel.New("https://ads.example.com/x", "https://other.org/", reqmodel.TypeScript, "")
	if got := idx.MatchAll(notBlocked); len(got) != 0 {
		t.Errorf("expected no match for an unpermitted source domain, got %v", got)
	}
}

// TestCatchAllShortcutFallsBack checks the rejection of
// catch-everything shortcuts: a bare "https" pattern is too generic for the
// shortcut table and lands in the fallback bucket, where it still matches.
func TestCatchAllShortcutFallsBack(t *testing.T) {
	idx, _ := buildIndex(t, "https", false)

	if len(idx.otherRules) != 1 {
		t.Fatalf("expected the catch-all rule in other_rules, got %d entries there", len(idx.otherRules))
	}
	req := reqmodel.New("https://example.org/", "", reqmodel.TypeDocument, "")
	if got := idx.MatchAll(req); len(got) != 1 {
		t.Errorf("expected the fallback rule to match, got %v", got)
	}
}

// TestOtherRulesDedupByIdentity checks that re-adding the same stored rule
// doesn't duplicate the fallback bucket, while rules_count still counts
// every AddRule call.
func TestOtherRulesDedupByIdentity(t *testing.T) {
	idx, storage := buildIndex(t, "a$script", false)

	if len(idx.otherRules) != 1 {
		t.Fatalf("expected one fallback entry, got %d", len(idx.otherRules))
	}
	first := idx.otherRules[0]
	r, ok := storage.RetrieveRule(first)
	if !ok {
		t.Fatalf("expected to retrieve the fallback rule")
	}
	idx.AddRule(r.Network, first)
	if len(idx.otherRules) != 1 {
		t.Errorf("expected identity dedup to keep one fallback entry, got %d", len(idx.otherRules))
	}
	if idx.RulesCount() != 2 {
		t.Errorf("RulesCount = %d, want 2 (every accepted rule counts)", idx.RulesCount())
	}
}
