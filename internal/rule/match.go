package rule

import (
	"regexp"
	"strings"

	"ruleengine/internal/reqmodel"
)

// Match evaluates a NetworkRule against a request in a fixed order:
// request-type mask, domain allow/deny, third-party
// constraint, match-case sensitivity, then the full pattern match.
func (nr *NetworkRule) Match(req *reqmodel.Request) bool {
	if !nr.matchesType(req.Type) {
		return false
	}
	if !nr.matchesDomain(req.SourceHostname) {
		return false
	}
	if !nr.matchesThirdParty(req.ThirdParty) {
		return false
	}
	return nr.matchesPattern(req)
}

func (nr *NetworkRule) matchesType(t reqmodel.RequestType) bool {
	if nr.Modifiers.RestrictedTypes != 0 && nr.Modifiers.RestrictedTypes&t != 0 {
		return false
	}
	if nr.Modifiers.HasPermittedTypes && nr.Modifiers.PermittedTypes&t == 0 {
		return false
	}
	return true
}

func (nr *NetworkRule) matchesDomain(sourceHostname string) bool {
	if len(nr.Modifiers.RestrictedDomains) > 0 && domainListMatches(nr.Modifiers.RestrictedDomains, sourceHostname) {
		return false
	}
	if len(nr.Modifiers.PermittedDomains) > 0 && !domainListMatches(nr.Modifiers.PermittedDomains, sourceHostname) {
		return false
	}
	return true
}

// domainListMatches reports whether hostname equals, or is a subdomain of,
// any entry in domains.
func domainListMatches(domains []string, hostname string) bool {
	if hostname == "" {
		return false
	}
	for _, d := range domains {
		if hostname == d || strings.HasSuffix(hostname, "."+d) {
			return true
		}
	}
	return false
}

func (nr *NetworkRule) matchesThirdParty(isThirdParty bool) bool {
	if nr.Flags.ThirdParty && !isThirdParty {
		return false
	}
	if nr.Flags.NotThirdParty && isThirdParty {
		return false
	}
	return true
}

func (nr *NetworkRule) matchesPattern(req *reqmodel.Request) bool {
	url := req.URLLowercase
	if nr.Flags.MatchCase {
		url = req.URL
		if len(url) > reqmodel.MaxURLScanLength {
			url = url[:reqmodel.MaxURLScanLength]
		}
	}

	re := nr.compiledRegex()
	return re.MatchString(url)
}

// compiledRegex lazily translates the Adblock-Plus pattern grammar into a
// Go regular expression and caches it on the rule: "*" -> ".*", "^" -> a
// separator class or end-of-string, "||" -> an anchored host with optional
// scheme, leading/trailing "|" -> string anchors.
func (nr *NetworkRule) compiledRegex() *regexp.Regexp {
	nr.regexOnce.Do(nr.compileRegex)
	return nr.regex
}

func (nr *NetworkRule) compileRegex() {
	pattern := nr.Pattern
	if !nr.Flags.MatchCase {
		pattern = strings.ToLower(pattern)
	}

	var b strings.Builder
	i := 0
	n := len(pattern)

	if strings.HasPrefix(pattern, "||") {
		b.WriteString(`^(?:[a-z-]+://)?([a-z0-9-]+\.)*`)
		i = 2
	} else if strings.HasPrefix(pattern, "|") {
		b.WriteString("^")
		i = 1
	}

	end := n
	trailingAnchor := false
	if n > i && pattern[n-1] == '|' && !(n-1 == i-1) {
		end = n - 1
		trailingAnchor = true
	}

	for ; i < end; i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '^':
			b.WriteString(`(?:[^A-Za-z0-9_.%-]|$)`)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	if trailingAnchor {
		b.WriteString("$")
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		// A malformed translation degrades to "never matches" rather than
		// panicking at match time; the rule should have been rejected at
		// parse time if its pattern were truly unusable.
		re = regexp.MustCompile(`$^`)
	}
	nr.regex = re
}
