// Package cookiefilter implements the cookie filtering state machine
//: request-headers-phase cookie stripping/rewriting and a
// response-phase drain that talks to the host's cookie jar through the
// CookieApi collaborator.
package cookiefilter

import (
	"net/http"
	"strings"

	"ruleengine/internal/rule"
)

// BrowserCookie is a cookie as stored by the host's cookie jar, the shape
// CookieApi.GetCookies returns and ModifyCookie accepts.
type BrowserCookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	SameSite string
	MaxAge   int
}

// CookieApi is the host collaborator through which ResponsePhase effects
// removals and modifications on the real cookie jar.
type CookieApi interface {
	RemoveCookie(name, url string) error
	ModifyCookie(c BrowserCookie, url string) error
	GetCookies(name, url string) ([]BrowserCookie, error)
}

// ScheduleEntry is one pending response-phase action for a request.
type ScheduleEntry struct {
	Remove bool
	Name   string
	URL    string
	Rules  []*rule.NetworkRule
}

// eventLog receives cookie-event notifications. Matched structurally so
// this package doesn't need to import internal/filteringlog.
type eventLog interface {
	AddCookieEvent(requestID, url, cookieName string, rules []*rule.NetworkRule, removed bool) error
}

// Filter holds the per-request_id schedule between RequestHeadersPhase and
// ResponsePhase. The core issues calls sequentially per request_id; Filter
// itself applies no locking, matching that single-threaded cooperative
// model.
type Filter struct {
	api      CookieApi
	schedule map[string][]ScheduleEntry
	log      eventLog
}

// New builds a cookie filter bound to api.
func New(api CookieApi) *Filter {
	return &Filter{api: api, schedule: make(map[string][]ScheduleEntry)}
}

// SetEventLog wires an optional FilteringLog sink; every scheduled cookie
// action is reported through it as it's decided.
func (f *Filter) SetEventLog(log eventLog) {
	f.log = log
}

// isModifying reports whether a $cookie advanced modifier rewrites
// attributes rather than just blocking/allowing outright.
func isModifying(cm *rule.CookieModifier) bool {
	return cm.IsModifying()
}

// RequestHeadersPhase inspects the request's Cookie header against
// cookieRules (every matched rule carrying a non-nil $cookie modifier),
// rewriting or dropping cookies and scheduling the
// corresponding response-phase actions under requestID. When any cookie was
// dropped, the Cookie header in headers is rewritten in place from the
// surviving list. Returns the resulting header value and whether it differs
// from the original.
func (f *Filter) RequestHeadersPhase(requestID, url string, headers http.Header, cookieRules []*rule.NetworkRule) (string, bool) {
	original := headers.Get("Cookie")
	cookies := parseCookieHeader(original)

	var entries []ScheduleEntry
	changed := false

	for i := len(cookies) - 1; i >= 0; i-- {
		c := cookies[i]

		var blocking *rule.NetworkRule
		for _, r := range cookieRules {
			cm := r.Modifiers.Cookie
			if cm == nil || !cm.Matches(c.name) || isModifying(cm) {
				continue
			}
			blocking = r
			break
		}

		if blocking != nil {
			removed := !blocking.Flags.Whitelist
			if removed {
				cookies = append(cookies[:i], cookies[i+1:]...)
				changed = true
				entries = append(entries, ScheduleEntry{Remove: true, Name: c.name, URL: url, Rules: []*rule.NetworkRule{blocking}})
			} else {
				entries = append(entries, ScheduleEntry{Remove: false, Name: c.name, URL: url, Rules: []*rule.NetworkRule{blocking}})
			}
			if f.log != nil {
				f.log.AddCookieEvent(requestID, url, c.name, []*rule.NetworkRule{blocking}, removed)
			}
			continue
		}

		var modifying []*rule.NetworkRule
		for _, r := range cookieRules {
			cm := r.Modifiers.Cookie
			if cm != nil && cm.Matches(c.name) && isModifying(cm) {
				modifying = append(modifying, r)
			}
		}
		if len(modifying) > 0 {
			entries = append(entries, ScheduleEntry{Remove: false, Name: c.name, URL: url, Rules: modifying})
			if f.log != nil {
				f.log.AddCookieEvent(requestID, url, c.name, modifying, false)
			}
		}
	}

	if len(entries) > 0 {
		f.schedule[requestID] = append(f.schedule[requestID], entries...)
	}

	if !changed {
		return original, false
	}
	rewritten := formatCookieHeader(cookies)
	if rewritten == "" {
		headers.Del("Cookie")
	} else {
		headers.Set("Cookie", rewritten)
	}
	return rewritten, true
}

// ResponsePhase drains the schedule built for requestID, calling into
// CookieApi for each entry, then clears it.
func (f *Filter) ResponsePhase(requestID string) error {
	entries := f.schedule[requestID]
	delete(f.schedule, requestID)

	for _, e := range entries {
		if e.Remove {
			if err := f.api.RemoveCookie(e.Name, e.URL); err != nil {
				return err
			}
			continue
		}

		stored, err := f.api.GetCookies(e.Name, e.URL)
		if err != nil {
			return err
		}
		for _, bc := range stored {
			modified := bc
			changed := false
			for _, r := range e.Rules {
				cm := r.Modifiers.Cookie
				if cm == nil {
					continue
				}
				if cm.SameSite != "" && cm.SameSite != modified.SameSite {
					modified.SameSite = cm.SameSite
					changed = true
				}
				if cm.MaxAge > 0 && (modified.MaxAge == 0 || cm.MaxAge < modified.MaxAge) {
					modified.MaxAge = cm.MaxAge
					changed = true
				}
			}
			if changed {
				if err := f.api.ModifyCookie(modified, e.URL); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type cookiePair struct {
	name  string
	value string
}

func parseCookieHeader(header string) []cookiePair {
	if header == "" {
		return nil
	}
	var out []cookiePair
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		out = append(out, cookiePair{name: strings.TrimSpace(name), value: strings.TrimSpace(value)})
	}
	return out
}

func formatCookieHeader(cookies []cookiePair) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.name+"="+c.value)
	}
	return strings.Join(parts, "; ")
}
