// Package rule implements the filter-rule parser/builder:
// classifying a line as network, cosmetic, or comment, and building the
// tagged Rule record consumed by the storage, network, and cosmetic
// subsystems.
package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"ruleengine/internal/reqmodel"
)

// RuleSyntaxError is returned (and, by the scanner, logged and skipped)
// when a line can't be parsed as a rule.
type RuleSyntaxError struct {
	Line   string
	Reason string
}

func (e *RuleSyntaxError) Error() string {
	return fmt.Sprintf("rule syntax error: %q: %s", e.Line, e.Reason)
}

// Kind distinguishes the two Rule variants.
type Kind int

const (
	KindNetwork Kind = iota
	KindCosmetic
)

// CosmeticKind distinguishes the cosmetic rule sub-variants.
type CosmeticKind int

const (
	CosmeticElementHide CosmeticKind = iota
	CosmeticCSSInject
	CosmeticJS
	CosmeticHTML
)

// cosmeticMarkerOrder lists every cosmetic marker; cosmeticMarkerInfo maps
// each one to (whitelist, kind). findCosmeticMarker picks the marker that
// occurs earliest in the line, preferring the longer one when two start at
// the same position, so the order of this list does not affect the result.
var cosmeticMarkerOrder = []string{
	"#@$#", "#@?#", "#@%#", "$@$",
	"##", "#@#", "#?#", "#$#", "#%#", "$$",
}

var cosmeticMarkerInfo = map[string]struct {
	whitelist bool
	kind      CosmeticKind
}{
	"##":   {false, CosmeticElementHide},
	"#@#":  {true, CosmeticElementHide},
	"#?#":  {false, CosmeticElementHide},
	"#@?#": {true, CosmeticElementHide},
	"#$#":  {false, CosmeticCSSInject},
	"#@$#": {true, CosmeticCSSInject},
	"#%#":  {false, CosmeticJS},
	"#@%#": {true, CosmeticJS},
	"$$":   {false, CosmeticHTML},
	"$@$":  {true, CosmeticHTML},
}

// NetworkFlags holds the boolean modifiers of a network rule.
type NetworkFlags struct {
	Whitelist     bool
	Important     bool
	ThirdParty    bool // $third-party present
	NotThirdParty bool // $~third-party present
	MatchCase     bool
	Popup         bool
	ElemHide      bool
	GenericHide   bool
	Urlblock      bool
}

// CookieModifier is the advanced modifier carried by $cookie rules.
type CookieModifier struct {
	NamePattern string
	SameSite    string
	MaxAge      int // seconds; 0 means unset
}

// IsModifying reports whether this modifier rewrites cookie attributes
// rather than just blocking/allowing the cookie outright.
func (c *CookieModifier) IsModifying() bool {
	return c != nil && (c.SameSite != "" || c.MaxAge > 0)
}

// Matches reports whether a cookie name matches this modifier's pattern.
// An empty pattern matches every cookie name.
func (c *CookieModifier) Matches(cookieName string) bool {
	if c == nil || c.NamePattern == "" {
		return true
	}
	return c.NamePattern == cookieName
}

// Modifiers holds the modifier lists a network rule can carry, including
// the advanced $cookie modifier.
type Modifiers struct {
	PermittedDomains  []string
	RestrictedDomains []string
	PermittedTypes    reqmodel.RequestType // 0 means "no inclusion restriction"
	RestrictedTypes   reqmodel.RequestType
	HasPermittedTypes bool
	CSP               []string
	Replace           []string
	Redirect          string
	Cookie            *CookieModifier
	Stealth           []string
}

// NetworkRule is a parsed Adblock-Plus-style network (blocking/allowing)
// rule.
type NetworkRule struct {
	Pattern      string
	Shortcut     string
	Flags        NetworkFlags
	Modifiers    Modifiers
	FilterListID int32

	regexOnce sync.Once
	regex     *regexp.Regexp // lazily compiled pattern, cached on first Match
}

// CosmeticRule is a parsed cosmetic (page-appearance) rule.
type CosmeticRule struct {
	Content           string
	PermittedDomains  []string
	RestrictedDomains []string
	Kind              CosmeticKind
	Whitelist         bool
	FilterListID      int32
}

// Rule is the tagged sum type returned by Parse.
type Rule struct {
	Kind     Kind
	Network  *NetworkRule
	Cosmetic *CosmeticRule
}

// IsComment reports whether line is a filter-list comment line.
func IsComment(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return true
	}
	if trimmed[0] == '!' {
		return true
	}
	if line != "" && line[0] == '#' && (len(line) == 1 || line[1] == ' ') {
		return true
	}
	return false
}

func findCosmeticMarker(line string) (marker string, idx int, found bool) {
	bestIdx := -1
	bestMarker := ""
	for _, m := range cosmeticMarkerOrder {
		if i := strings.Index(line, m); i >= 0 {
			if bestIdx == -1 || i < bestIdx || (i == bestIdx && len(m) > len(bestMarker)) {
				bestIdx = i
				bestMarker = m
			}
		}
	}
	if bestIdx == -1 {
		return "", 0, false
	}
	return bestMarker, bestIdx, true
}

// Parse classifies line and builds its tagged Rule, or returns nil, nil for
// lines that should be silently skipped (blank/comment), or a
// *RuleSyntaxError for lines that look like rules but fail to parse.
func Parse(line string, listID int32) (*Rule, error) {
	trimmed := strings.TrimSpace(line)
	if IsComment(trimmed) {
		return nil, nil
	}

	if marker, idx, ok := findCosmeticMarker(trimmed); ok {
		return parseCosmetic(trimmed, marker, idx, listID)
	}

	return parseNetwork(trimmed, listID)
}

func parseCosmetic(line, marker string, idx int, listID int32) (*Rule, error) {
	info, ok := cosmeticMarkerInfo[marker]
	if !ok {
		return nil, &RuleSyntaxError{Line: line, Reason: "unknown cosmetic marker"}
	}

	domainsPart := line[:idx]
	content := line[idx+len(marker):]
	if content == "" {
		return nil, &RuleSyntaxError{Line: line, Reason: "empty cosmetic selector body"}
	}

	var permitted, restricted []string
	if domainsPart != "" {
		for _, d := range strings.Split(domainsPart, ",") {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			if strings.HasPrefix(d, "~") {
				restricted = append(restricted, strings.ToLower(d[1:]))
			} else {
				permitted = append(permitted, strings.ToLower(d))
			}
		}
	}

	return &Rule{
		Kind: KindCosmetic,
		Cosmetic: &CosmeticRule{
			Content:           content,
			PermittedDomains:  permitted,
			RestrictedDomains: restricted,
			Kind:              info.kind,
			Whitelist:         info.whitelist,
			FilterListID:      listID,
		},
	}, nil
}

func parseNetwork(line string, listID int32) (*Rule, error) {
	whitelist := false
	body := line
	if strings.HasPrefix(body, "@@") {
		whitelist = true
		body = body[2:]
	}
	if body == "" {
		return nil, &RuleSyntaxError{Line: line, Reason: "empty network rule body"}
	}

	pattern := body
	var modifierStr string
	if i := strings.LastIndex(body, "$"); i >= 0 && i != 0 {
		// The modifier list is the part after the rightmost '$' (escaping
		// is not recognised); a '$' at position 0 is kept in the pattern.
		pattern = body[:i]
		modifierStr = body[i+1:]
	}
	if pattern == "" {
		return nil, &RuleSyntaxError{Line: line, Reason: "empty pattern"}
	}

	nr := &NetworkRule{
		Pattern:      pattern,
		FilterListID: listID,
		Flags:        NetworkFlags{Whitelist: whitelist},
	}
	nr.Shortcut = extractShortcut(pattern)

	if modifierStr != "" {
		if err := applyModifiers(nr, modifierStr); err != nil {
			return nil, err
		}
	}

	return &Rule{Kind: KindNetwork, Network: nr}, nil
}

// extractShortcut returns the longest contiguous literal (non-wildcard,
// non-anchor, non-separator) substring of pattern, lowercased.
func extractShortcut(pattern string) string {
	best := ""
	var cur strings.Builder
	flush := func() {
		if cur.Len() > len(best) {
			best = cur.String()
		}
		cur.Reset()
	}
	for _, r := range pattern {
		switch r {
		case '*', '^', '|':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return strings.ToLower(best)
}

func applyModifiers(nr *NetworkRule, modifierStr string) error {
	parts := splitModifiers(modifierStr)

	for i := 0; i < len(parts); i++ {
		raw := strings.TrimSpace(parts[i])
		if raw == "" {
			continue
		}

		negated := strings.HasPrefix(raw, "~")
		if negated {
			raw = raw[1:]
		}

		key := raw
		var value string
		if j := strings.Index(raw, "="); j >= 0 {
			key = raw[:j]
			value = raw[j+1:]
		}
		key = strings.ToLower(key)

		if t, ok := reqmodel.ParseRequestType(key); ok {
			if negated {
				nr.Modifiers.RestrictedTypes |= t
			} else {
				nr.Modifiers.PermittedTypes |= t
				nr.Modifiers.HasPermittedTypes = true
			}
			continue
		}

		if key == "cookie" {
			cm, err := parseCookieModifier(value)
			if err != nil {
				return err
			}
			// The cookie modifier's own sub-fields (sameSite, maxAge) ride
			// along as subsequent top-level comma-separated entries in this
			// line format ("$cookie=track,maxAge=60"), so fold any
			// immediately-following maxAge=/sameSite= entries into it
			// instead of treating them as independent, unknown modifiers.
			for i+1 < len(parts) {
				next := strings.TrimSpace(parts[i+1])
				lower := strings.ToLower(next)
				switch {
				case strings.HasPrefix(lower, "maxage="):
					n, err := strconv.Atoi(next[len("maxAge="):])
					if err != nil {
						return &RuleSyntaxError{Line: next, Reason: "invalid maxAge: " + err.Error()}
					}
					cm.MaxAge = n
					i++
				case strings.HasPrefix(lower, "samesite="):
					cm.SameSite = next[len("sameSite="):]
					i++
				default:
					goto doneCookie
				}
			}
		doneCookie:
			nr.Modifiers.Cookie = cm
			continue
		}

		switch key {
		case "domain":
			for _, d := range strings.Split(value, "|") {
				d = strings.TrimSpace(d)
				if d == "" {
					continue
				}
				if strings.HasPrefix(d, "~") {
					nr.Modifiers.RestrictedDomains = append(nr.Modifiers.RestrictedDomains, strings.ToLower(d[1:]))
				} else {
					nr.Modifiers.PermittedDomains = append(nr.Modifiers.PermittedDomains, strings.ToLower(d))
				}
			}
		case "third-party":
			if negated {
				nr.Flags.NotThirdParty = true
			} else {
				nr.Flags.ThirdParty = true
			}
		case "important":
			nr.Flags.Important = true
		case "match-case":
			nr.Flags.MatchCase = true
		case "popup":
			nr.Flags.Popup = true
		case "elemhide":
			nr.Flags.ElemHide = true
		case "generichide":
			nr.Flags.GenericHide = true
		case "urlblock":
			nr.Flags.Urlblock = true
		case "csp":
			nr.Modifiers.CSP = append(nr.Modifiers.CSP, value)
		case "replace":
			nr.Modifiers.Replace = append(nr.Modifiers.Replace, value)
		case "redirect":
			nr.Modifiers.Redirect = value
		default:
			// The modifier vocabulary is open-ended; unrecognised keys
			// are preserved as stealth markers rather than rejected,
			// since the filter-list ecosystem evolves faster than any
			// closed modifier table.
			nr.Modifiers.Stealth = append(nr.Modifiers.Stealth, raw)
		}
	}
	return nil
}

// splitModifiers splits a "$"-delimited modifier list on every comma. No
// value is treated specially: a comma inside a replace= body splits it too.
func splitModifiers(s string) []string {
	return strings.Split(s, ",")
}

func parseCookieModifier(value string) (*CookieModifier, error) {
	cm := &CookieModifier{}
	if value == "" {
		return cm, nil
	}
	parts := strings.Split(value, ";")
	cm.NamePattern = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "samesite":
			cm.SameSite = kv[1]
		case "maxage":
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				return nil, &RuleSyntaxError{Line: value, Reason: "invalid maxAge: " + err.Error()}
			}
			cm.MaxAge = n
		}
	}
	return cm, nil
}
