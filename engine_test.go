package ruleengine

import (
	"testing"

	"ruleengine/internal/cosmetic"
	"ruleengine/internal/engineconfig"
	"ruleengine/internal/reqmodel"
	"ruleengine/internal/rulestorage"
)

func newTestEngine(t *testing.T, listID int32, text string) *Engine {
	t.Helper()
	storage := rulestorage.New()
	storage.AddList(listID, text)
	cfg := engineconfig.Default()
	e, err := NewEngine(storage, &cfg, false)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// TestBasicBlocking checks that a single "||example.org^" rule blocks a
// request to https://example.org/.
func TestBasicBlocking(t *testing.T) {
	e := newTestEngine(t, 1, "||example.org^")

	req := reqmodel.New("https://example.org/", "", reqmodel.TypeDocument, "")
	result := e.MatchRequest(req)
	if !result.IsBlocking() {
		t.Fatalf("expected a blocking verdict, got %+v", result)
	}
}

// TestDocumentAllowlist checks that "||example.org^" plus
// "@@||example.org^$document" yields an allowlisted verdict for a request
// whose source URL is example.org itself.
func TestDocumentAllowlist(t *testing.T) {
	e := newTestEngine(t, 1, "||example.org^\n@@||example.org^$document")

	req := reqmodel.New("https://example.org/", "https://example.org/", reqmodel.TypeDocument, "")
	result := e.MatchRequest(req)
	if !result.Allowlisted {
		t.Fatalf("expected an allowlisted verdict, got %+v", result)
	}
	if result.IsBlocking() {
		t.Errorf("expected a non-blocking verdict once allowlisted")
	}
}

// TestImportantBeatsWhitelist checks that a request matching both
// "||tracker.example.com^$important" and the plain allow rule
// "@@||tracker.example.com^" still blocks (important wins).
func TestImportantBeatsWhitelist(t *testing.T) {
	e := newTestEngine(t, 1, "||ads.example.com^\n||tracker.example.com^$important\n@@||tracker.example.com^")

	req := reqmodel.New("https://tracker.example.com/", "", reqmodel.TypeScript, "")
	result := e.MatchRequest(req)
	if !result.IsBlocking() {
		t.Fatalf("expected an important block to beat a plain whitelist, got %+v", result)
	}
}

// TestCosmeticWhitelistCancels checks that "example.com##.banner" plus
// "example.com#@#.banner" yields an empty element-hide set.
func TestCosmeticWhitelistCancels(t *testing.T) {
	e := newTestEngine(t, 1, "example.com##.banner\nexample.com#@#.banner")

	result := e.GetCosmeticResult("example.com", cosmetic.AllKinds)
	if len(result.ElementHide) != 0 {
		t.Fatalf("expected the whitelist to cancel the element-hide rule, got %v", result.ElementHide)
	}
}

// TestRulesCountAcrossBothEngines checks that RulesCount reflects both
// network and cosmetic rules accepted at load time.
func TestRulesCountAcrossBothEngines(t *testing.T) {
	e := newTestEngine(t, 1, "||example.org^\nexample.com##.banner\n! a comment\n\n")

	if got := e.RulesCount(); got != 2 {
		t.Fatalf("RulesCount() = %d, want 2", got)
	}
}

// TestDeterminism checks that repeated MatchRequest calls on the same
// engine and request produce equal results.
func TestDeterminism(t *testing.T) {
	e := newTestEngine(t, 1, "||example.org^$important")

	req := reqmodel.New("https://example.org/path", "", reqmodel.TypeScript, "req-fixed")
	first := e.MatchRequest(req)
	for i := 0; i < 5; i++ {
		got := e.MatchRequest(req)
		if got.IsBlocking() != first.IsBlocking() || got.Allowlisted != first.Allowlisted {
			t.Fatalf("MatchRequest is non-deterministic: %+v vs %+v", got, first)
		}
	}
}

// TestLoadRulesRebuildsIndexes checks that a second LoadRules rebuilds the
// indexes from scratch instead of double-counting the same storage.
func TestLoadRulesRebuildsIndexes(t *testing.T) {
	e := newTestEngine(t, 1, "||example.org^\nexample.com##.banner")

	if got := e.RulesCount(); got != 2 {
		t.Fatalf("RulesCount after first load = %d, want 2", got)
	}
	if err := e.LoadRules(); err != nil {
		t.Fatalf("second LoadRules: %v", err)
	}
	if got := e.RulesCount(); got != 2 {
		t.Fatalf("RulesCount after reload = %d, want 2", got)
	}
}

// TestIgnoreCosmeticConfig checks that ignore_cosmetic keeps cosmetic rules
// out of both the count and the cosmetic engine.
func TestIgnoreCosmeticConfig(t *testing.T) {
	storage := rulestorage.New()
	storage.AddList(1, "||example.org^\nexample.com##.banner")
	cfg := engineconfig.Default()
	cfg.IgnoreCosmetic = true
	e, err := NewEngine(storage, &cfg, false)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if got := e.RulesCount(); got != 1 {
		t.Fatalf("RulesCount = %d, want 1", got)
	}
	if result := e.GetCosmeticResult("example.com", cosmetic.AllKinds); len(result.ElementHide) != 0 {
		t.Errorf("expected no cosmetic rules when ignored at load, got %v", result.ElementHide)
	}
}

// TestSkipScanDefersLoading checks the skipScan flag: indexes stay
// empty until LoadRules is called.
func TestSkipScanDefersLoading(t *testing.T) {
	storage := rulestorage.New()
	storage.AddList(1, "||example.org^")
	cfg := engineconfig.Default()
	e, err := NewEngine(storage, &cfg, true)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if got := e.RulesCount(); got != 0 {
		t.Fatalf("RulesCount before load = %d, want 0", got)
	}
	if err := e.LoadRules(); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if got := e.RulesCount(); got != 1 {
		t.Fatalf("RulesCount after load = %d, want 1", got)
	}
}
