// Package verdict implements the matching-result reducer:
// combining every matched network rule into a single actionable verdict —
// block, allow, allowlist, or modifier set — respecting rule precedence.
package verdict

import (
	"ruleengine/internal/netindex"
	"ruleengine/internal/reqmodel"
	"ruleengine/internal/rule"
)

// ModifierSet collects the non-blocking side effects carried by the rules
// that matched a request.
type ModifierSet struct {
	CSP      []string
	Replace  []string
	Cookie   []*rule.CookieModifier
	Redirect string
	Stealth  []string
}

// MatchingResult is the reducer's output.
type MatchingResult struct {
	Basic       *rule.NetworkRule
	Document    *rule.NetworkRule
	Allowlisted bool
	Modifiers   ModifierSet
}

// IsBlocking reports whether the result represents a blocking verdict: a
// basic result exists, is not a whitelist rule, and the request was not
// document-allowlisted.
func (r MatchingResult) IsBlocking() bool {
	return !r.Allowlisted && r.Basic != nil && !r.Basic.Flags.Whitelist
}

// Reduce builds a MatchingResult from the rules that matched the request
// (matchedRules) and the rules that match the request's own source URL
// treated as a request in its own right (sourceRules), resolving
// precedence between them.
func Reduce(matchedRules, sourceRules []netindex.Candidate) MatchingResult {
	var result MatchingResult

	if ok, docRule := documentAllowlist(sourceRules); ok {
		result.Document = docRule
		result.Allowlisted = true
		return result
	}

	result.Basic = basicResult(matchedRules)
	if result.Basic != nil && result.Basic.Flags.Whitelist {
		result.Allowlisted = true
	}

	collectModifiers(&result.Modifiers, matchedRules)

	return result
}

// documentAllowlist finds the most specific whitelist rule among
// sourceRules carrying a document/urlblock/elemhide option. "Most specific"
// is resolved the same way as the basic-result tie-break: highest storage
// index, i.e. most recently added.
func documentAllowlist(sourceRules []netindex.Candidate) (bool, *rule.NetworkRule) {
	var best *rule.NetworkRule
	var bestIdx int64 = -1

	for _, c := range sourceRules {
		nr := c.Rule
		if !nr.Flags.Whitelist {
			continue
		}
		isDocumentOption := nr.Modifiers.HasPermittedTypes && nr.Modifiers.PermittedTypes&reqmodel.TypeDocument != 0
		if !isDocumentOption && !nr.Flags.Urlblock && !nr.Flags.ElemHide {
			continue
		}
		if best == nil || c.Index > bestIdx {
			best = nr
			bestIdx = c.Index
		}
	}
	return best != nil, best
}

// basicResult picks the single network rule representing the request's
// block/allow verdict. Precedence: important whitelist > important block >
// whitelist > block; ties within a precedence tier go to the
// highest storage index.
func basicResult(candidates []netindex.Candidate) *rule.NetworkRule {
	var best *rule.NetworkRule
	bestTier := -1
	var bestIdx int64

	for _, c := range candidates {
		t := precedenceTier(c.Rule)
		if t > bestTier || (t == bestTier && c.Index > bestIdx) {
			best = c.Rule
			bestTier = t
			bestIdx = c.Index
		}
	}
	return best
}

func precedenceTier(nr *rule.NetworkRule) int {
	switch {
	case nr.Flags.Whitelist && nr.Flags.Important:
		return 3
	case !nr.Flags.Whitelist && nr.Flags.Important:
		return 2
	case nr.Flags.Whitelist:
		return 1
	default:
		return 0
	}
}

// collectModifiers gathers the csp/replace/cookie/stealth modifier lists
// from every matched rule, and resolves the single highest-precedence
// redirect (same tiers and index tie-break as basicResult).
func collectModifiers(ms *ModifierSet, candidates []netindex.Candidate) {
	var redirectRule *rule.NetworkRule
	redirectTier := -1
	var redirectIdx int64 = -1

	for _, c := range candidates {
		nr := c.Rule
		ms.CSP = append(ms.CSP, nr.Modifiers.CSP...)
		ms.Replace = append(ms.Replace, nr.Modifiers.Replace...)
		ms.Stealth = append(ms.Stealth, nr.Modifiers.Stealth...)
		if nr.Modifiers.Cookie != nil {
			ms.Cookie = append(ms.Cookie, nr.Modifiers.Cookie)
		}
		if nr.Modifiers.Redirect != "" {
			if t := precedenceTier(nr); t > redirectTier || (t == redirectTier && c.Index > redirectIdx) {
				redirectRule = nr
				redirectTier = t
				redirectIdx = c.Index
			}
		}
	}
	if redirectRule != nil {
		ms.Redirect = redirectRule.Modifiers.Redirect
	}
}
