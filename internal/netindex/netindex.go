// Package netindex implements the network matching engine: a shortcut +
// domain + fallback index that returns, in amortised sub-linear time over
// the ruleset, every network rule matching a request.
package netindex

import (
	"strings"

	"ruleengine/internal/reqmodel"
	"ruleengine/internal/rule"
	"ruleengine/internal/rulestorage"
)

// ShortcutLength is the fixed window size used for both insertion and
// lookup.
const ShortcutLength = 5

// catchAllPrefixes are pattern prefixes that occur in almost every rule of
// their category and would dominate the shortcut index; a rule whose
// pattern starts with one and whose shortcut is shorter than the listed
// minimum is rejected as a shortcut candidate and falls through to
// domain/fallback placement.
var catchAllPrefixes = []struct {
	prefix      string
	minShortcut int
}{
	{"ws:", 6},
	{"|ws", 7},
	{"http", 9},
	{"|http", 10},
}

// Index is the network engine's read side plus the insertion logic that
// builds it. Built once at load time; reads are re-entrant and safe to
// share.
type Index struct {
	storage *rulestorage.RuleStorage

	shortcutsTable     map[uint32][]int64
	shortcutsHistogram map[uint32]int
	domainsTable       map[uint32][]int64
	otherRules         []int64
	otherSeen          map[int64]struct{}

	rulesCount int
}

// New builds an empty index bound to storage; rules are added with AddRule
// as the storage's scanner advances.
func New(storage *rulestorage.RuleStorage) *Index {
	return &Index{
		storage:            storage,
		shortcutsTable:     make(map[uint32][]int64),
		shortcutsHistogram: make(map[uint32]int),
		domainsTable:       make(map[uint32][]int64),
		otherSeen:          make(map[int64]struct{}),
	}
}

// djb2: seed 5381, multiplier 33. Every table in the index keys on it.
func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

// AddRule indexes a single network rule at its storage index, following
// the three-step placement: shortcut, then domain, then fallback.
func (idx *Index) AddRule(nr *rule.NetworkRule, storageIndex int64) {
	idx.rulesCount++

	if shortcuts := getRuleShortcuts(nr); len(shortcuts) > 0 {
		bestCount := -1
		var bestHash uint32
		for _, s := range shortcuts {
			h := djb2(s)
			if count := idx.shortcutsHistogram[h]; bestCount == -1 || count < bestCount {
				bestCount = count
				bestHash = h
			}
		}
		idx.shortcutsHistogram[bestHash]++
		idx.shortcutsTable[bestHash] = append(idx.shortcutsTable[bestHash], storageIndex)
		return
	}

	if len(nr.Modifiers.PermittedDomains) > 0 {
		for _, d := range nr.Modifiers.PermittedDomains {
			h := djb2(d)
			idx.domainsTable[h] = append(idx.domainsTable[h], storageIndex)
		}
		return
	}

	if _, dup := idx.otherSeen[storageIndex]; dup {
		return
	}
	idx.otherSeen[storageIndex] = struct{}{}
	idx.otherRules = append(idx.otherRules, storageIndex)
}

// getRuleShortcuts returns the set of every length-5 substring of the
// rule's shortcut, or nil if the shortcut is absent, shorter than 5, or the
// pattern starts with a catch-everything prefix and the shortcut is too
// short to be a useful index key.
func getRuleShortcuts(nr *rule.NetworkRule) []string {
	s := nr.Shortcut
	if len(s) < ShortcutLength {
		return nil
	}

	pattern := strings.ToLower(nr.Pattern)
	for _, c := range catchAllPrefixes {
		if strings.HasPrefix(pattern, c.prefix) && len(s) < c.minShortcut {
			return nil
		}
	}

	seen := make(map[string]bool)
	var out []string
	for i := 0; i+ShortcutLength <= len(s); i++ {
		window := s[i : i+ShortcutLength]
		if !seen[window] {
			seen[window] = true
			out = append(out, window)
		}
	}
	return out
}

// RulesCount returns the number of rules accepted by AddRule.
func (idx *Index) RulesCount() int {
	return idx.rulesCount
}

// Candidate pairs a matched network rule with its storage index, which the
// reducer (internal/verdict) uses as the deterministic tie-break.
type Candidate struct {
	Rule  *rule.NetworkRule
	Index int64
}

// MatchAll returns every network rule matching req, in window-scan, then
// domain-suffix, then fallback order.
// Duplicates are possible and tolerated downstream.
func (idx *Index) MatchAll(req *reqmodel.Request) []Candidate {
	var out []Candidate

	u := req.URLLowercase
	if len(u) > reqmodel.MaxURLScanLength {
		u = u[:reqmodel.MaxURLScanLength]
	}

	for i := 0; i+ShortcutLength <= len(u); i++ {
		h := djb2(u[i : i+ShortcutLength])
		for _, candidateIdx := range idx.shortcutsTable[h] {
			if nr := idx.retrieveNetworkRule(candidateIdx); nr != nil && nr.Match(req) {
				out = append(out, Candidate{nr, candidateIdx})
			}
		}
	}

	for _, domain := range reqmodel.Subdomains(req.SourceHostname) {
		h := djb2(domain)
		for _, candidateIdx := range idx.domainsTable[h] {
			if nr := idx.retrieveNetworkRule(candidateIdx); nr != nil && nr.Match(req) {
				out = append(out, Candidate{nr, candidateIdx})
			}
		}
	}

	for _, candidateIdx := range idx.otherRules {
		if nr := idx.retrieveNetworkRule(candidateIdx); nr != nil && nr.Match(req) {
			out = append(out, Candidate{nr, candidateIdx})
		}
	}

	return out
}

func (idx *Index) retrieveNetworkRule(storageIndex int64) *rule.NetworkRule {
	r, ok := idx.storage.RetrieveRule(storageIndex)
	if !ok || r.Kind != rule.KindNetwork {
		return nil
	}
	return r.Network
}
