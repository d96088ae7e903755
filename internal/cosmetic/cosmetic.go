// Package cosmetic implements the cosmetic lookup table: mapping a
// hostname to applicable cosmetic rules, with whitelist (exception)
// handling.
package cosmetic

import (
	"regexp"
	"strings"
	"sync"

	"ruleengine/internal/rule"
)

// Option is a bitmask selecting which cosmetic rule kinds (and whether
// generic, domain-less rules) a query wants back.
type Option int

const (
	OptElementHide Option = 1 << iota
	OptCSS
	OptJS
	OptHTML
	OptGeneric
)

// AllKinds requests every cosmetic rule kind, including generic rules.
const AllKinds = OptElementHide | OptCSS | OptJS | OptHTML | OptGeneric

func kindOption(k rule.CosmeticKind) Option {
	switch k {
	case rule.CosmeticElementHide:
		return OptElementHide
	case rule.CosmeticCSSInject:
		return OptCSS
	case rule.CosmeticJS:
		return OptJS
	case rule.CosmeticHTML:
		return OptHTML
	default:
		return 0
	}
}

// Result groups the cosmetic rules that apply to one hostname, by kind.
type Result struct {
	ElementHide []*rule.CosmeticRule
	CSS         []*rule.CosmeticRule
	JS          []*rule.CosmeticRule
	HTML        []*rule.CosmeticRule
}

// Engine is the cosmetic lookup table with whitelist, generic,
// wildcard, and by-hostname buckets.
type Engine struct {
	whitelist     map[string][]*rule.CosmeticRule
	genericRules  []*rule.CosmeticRule
	wildcardRules []*rule.CosmeticRule
	byHostname    map[string][]*rule.CosmeticRule

	rulesCount int
}

// New builds an empty cosmetic engine.
func New() *Engine {
	return &Engine{
		whitelist:  make(map[string][]*rule.CosmeticRule),
		byHostname: make(map[string][]*rule.CosmeticRule),
	}
}

// AddRule inserts a cosmetic rule into the appropriate bucket.
func (e *Engine) AddRule(cr *rule.CosmeticRule) {
	e.rulesCount++

	if cr.Whitelist {
		e.whitelist[cr.Content] = append(e.whitelist[cr.Content], cr)
		return
	}

	if len(cr.PermittedDomains) == 0 {
		e.genericRules = append(e.genericRules, cr)
		return
	}

	hasWildcard := false
	for _, d := range cr.PermittedDomains {
		if strings.Contains(d, "*") {
			hasWildcard = true
			break
		}
	}
	if hasWildcard {
		e.wildcardRules = append(e.wildcardRules, cr)
		return
	}

	for _, d := range cr.PermittedDomains {
		e.byHostname[d] = append(e.byHostname[d], cr)
	}
}

// RulesCount returns the number of rules inserted via AddRule.
func (e *Engine) RulesCount() int {
	return e.rulesCount
}

// Match returns the cosmetic rules applicable to hostname for the
// requested options.
func (e *Engine) Match(hostname string, options Option) Result {
	var result Result

	candidates := make([]*rule.CosmeticRule, 0, len(e.byHostname[hostname]))
	candidates = append(candidates, e.byHostname[hostname]...)

	for _, r := range e.wildcardRules {
		if Matches(r, hostname) {
			candidates = append(candidates, r)
		}
	}

	if options&OptGeneric != 0 {
		candidates = append(candidates, e.genericRules...)
	}

	for _, r := range candidates {
		kindOpt := kindOption(r.Kind)
		if options&kindOpt == 0 {
			continue
		}
		if e.isWhitelisted(r, hostname) {
			continue
		}
		switch r.Kind {
		case rule.CosmeticElementHide:
			result.ElementHide = append(result.ElementHide, r)
		case rule.CosmeticCSSInject:
			result.CSS = append(result.CSS, r)
		case rule.CosmeticJS:
			result.JS = append(result.JS, r)
		case rule.CosmeticHTML:
			result.HTML = append(result.HTML, r)
		}
	}

	return result
}

// isWhitelisted reports whether some exception rule with the same content
// cancels r for hostname.
func (e *Engine) isWhitelisted(r *rule.CosmeticRule, hostname string) bool {
	for _, w := range e.whitelist[r.Content] {
		if Matches(w, hostname) {
			return true
		}
	}
	return false
}

// Matches reports whether a cosmetic rule's domain restrictions admit
// hostname: at least one permitted domain pattern matches it ("a.com,
// b.com##sel" lists alternatives, not a conjunction) and no restricted
// domain pattern does.
func Matches(r *rule.CosmeticRule, hostname string) bool {
	for _, restricted := range r.RestrictedDomains {
		if domainPatternMatches(restricted, hostname) {
			return false
		}
	}
	if len(r.PermittedDomains) == 0 {
		return true
	}
	for _, permitted := range r.PermittedDomains {
		if domainPatternMatches(permitted, hostname) {
			return true
		}
	}
	return false
}

// wildcardRegexCache memoizes the compiled form of a wildcard domain
// pattern. Match is documented as safe to call concurrently once the engine
// is built, so lookups and first-seen compiles share one lock
// rather than racing on a bare map.
var wildcardRegexCache = struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

// domainPatternMatches implements label-wise glob semantics: "*.example.com"
// matches "a.example.com" but not "example.com".
func domainPatternMatches(pattern, hostname string) bool {
	if hostname == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	wildcardRegexCache.mu.RLock()
	re, ok := wildcardRegexCache.m[pattern]
	wildcardRegexCache.mu.RUnlock()
	if ok {
		return re.MatchString(hostname)
	}

	re = compileWildcardDomain(pattern)
	wildcardRegexCache.mu.Lock()
	wildcardRegexCache.m[pattern] = re
	wildcardRegexCache.mu.Unlock()
	return re.MatchString(hostname)
}

func compileWildcardDomain(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	var b strings.Builder
	b.WriteString("^")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(".+")
		}
		b.WriteString(regexp.QuoteMeta(p))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile(`$^`)
	}
	return re
}
