package cookiefilter

import (
	"net/http"
	"testing"

	"ruleengine/internal/rule"
)

type fakeCookieAPI struct {
	removed  []string
	modified []BrowserCookie
	stored   map[string][]BrowserCookie
}

func newFakeCookieAPI() *fakeCookieAPI {
	return &fakeCookieAPI{stored: make(map[string][]BrowserCookie)}
}

func (f *fakeCookieAPI) RemoveCookie(name, url string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeCookieAPI) ModifyCookie(c BrowserCookie, url string) error {
	f.modified = append(f.modified, c)
	return nil
}

func (f *fakeCookieAPI) GetCookies(name, url string) ([]BrowserCookie, error) {
	return f.stored[name], nil
}

func blockingCookieRule(namePattern string) *rule.NetworkRule {
	return &rule.NetworkRule{
		Pattern:   "||site.com^",
		Modifiers: rule.Modifiers{Cookie: &rule.CookieModifier{NamePattern: namePattern}},
	}
}

func modifyingCookieRule(namePattern string, maxAge int) *rule.NetworkRule {
	return &rule.NetworkRule{
		Pattern:   "||site.com^",
		Modifiers: rule.Modifiers{Cookie: &rule.CookieModifier{NamePattern: namePattern, MaxAge: maxAge}},
	}
}

// TestCookieRoundTripRemove checks the blocking half of cookie filtering:
// "||site.com^$cookie=tracker" applied to "tracker=1; JSESSIONID=x"
// rewrites the header to just "JSESSIONID=x" and schedules a removal.
func TestCookieRoundTripRemove(t *testing.T) {
	api := newFakeCookieAPI()
	f := New(api)

	headers := http.Header{}
	headers.Set("Cookie", "tracker=1; JSESSIONID=x")

	rewritten, changed := f.RequestHeadersPhase("req-1", "https://site.com/", headers, []*rule.NetworkRule{blockingCookieRule("tracker")})
	if !changed {
		t.Fatalf("expected the Cookie header to be rewritten")
	}
	if rewritten != "JSESSIONID=x" {
		t.Errorf("rewritten header = %q, want %q", rewritten, "JSESSIONID=x")
	}
	if got := headers.Get("Cookie"); got != "JSESSIONID=x" {
		t.Errorf("Cookie header not rewritten in place: %q", got)
	}

	if err := f.ResponsePhase("req-1"); err != nil {
		t.Fatalf("ResponsePhase: %v", err)
	}
	if len(api.removed) != 1 || api.removed[0] != "tracker" {
		t.Errorf("expected RemoveCookie(tracker) to be called, got removed=%v", api.removed)
	}
	if len(api.modified) != 0 {
		t.Errorf("expected no ModifyCookie calls, got %v", api.modified)
	}
}

// TestCookieRoundTripModify checks the modifying half:
// the same cookie under "$cookie=tracker,maxAge=60" is left in the header
// and scheduled as a modify, never a remove.
func TestCookieRoundTripModify(t *testing.T) {
	api := newFakeCookieAPI()
	api.stored["tracker"] = []BrowserCookie{{Name: "tracker", Value: "1", MaxAge: 3600}}
	f := New(api)

	headers := http.Header{}
	headers.Set("Cookie", "tracker=1; JSESSIONID=x")

	rewritten, changed := f.RequestHeadersPhase("req-2", "https://site.com/", headers, []*rule.NetworkRule{modifyingCookieRule("tracker", 60)})
	if changed {
		t.Errorf("expected no header rewrite for a modifying-only rule, got %q", rewritten)
	}

	if err := f.ResponsePhase("req-2"); err != nil {
		t.Fatalf("ResponsePhase: %v", err)
	}
	if len(api.removed) != 0 {
		t.Errorf("expected no RemoveCookie calls, got %v", api.removed)
	}
	if len(api.modified) != 1 || api.modified[0].MaxAge > 60 {
		t.Fatalf("expected ModifyCookie with maxAge <= 60, got %+v", api.modified)
	}
}

// TestSameSiteOverride checks that a stored cookie with sameSite=strict
// is rewritten to sameSite=lax by a "$cookie=track,sameSite=lax" rule, via
// exactly one ModifyCookie call.
func TestSameSiteOverride(t *testing.T) {
	api := newFakeCookieAPI()
	api.stored["track"] = []BrowserCookie{{Name: "track", SameSite: "strict"}}
	f := New(api)

	sameSiteRule := &rule.NetworkRule{
		Pattern:   "||site.com^",
		Modifiers: rule.Modifiers{Cookie: &rule.CookieModifier{NamePattern: "track", SameSite: "lax"}},
	}

	headers := http.Header{}
	headers.Set("Cookie", "track=1")
	f.RequestHeadersPhase("req-3", "https://site.com/", headers, []*rule.NetworkRule{sameSiteRule})

	if err := f.ResponsePhase("req-3"); err != nil {
		t.Fatalf("ResponsePhase: %v", err)
	}
	if len(api.modified) != 1 || api.modified[0].SameSite != "lax" {
		t.Fatalf("expected exactly one ModifyCookie(sameSite=lax), got %+v", api.modified)
	}
}

func TestMaxAgeNeverExtends(t *testing.T) {
	api := newFakeCookieAPI()
	api.stored["a"] = []BrowserCookie{{Name: "a", MaxAge: 30}}
	f := New(api)

	headers := http.Header{}
	headers.Set("Cookie", "a=1")
	f.RequestHeadersPhase("req-4", "https://site.com/", headers, []*rule.NetworkRule{modifyingCookieRule("a", 120)})

	if err := f.ResponsePhase("req-4"); err != nil {
		t.Fatalf("ResponsePhase: %v", err)
	}
	if len(api.modified) != 0 {
		t.Errorf("expected maxAge=120 to never extend an existing 30s cookie, got %+v", api.modified)
	}
}

func TestNonModifyingWinsOverModifying(t *testing.T) {
	api := newFakeCookieAPI()
	f := New(api)

	headers := http.Header{}
	headers.Set("Cookie", "a=1")
	rewritten, changed := f.RequestHeadersPhase("req-5", "https://site.com/", headers, []*rule.NetworkRule{
		blockingCookieRule("a"),
		modifyingCookieRule("a", 60),
	})
	if !changed || rewritten != "" {
		t.Fatalf("expected the cookie dropped entirely, got rewritten=%q changed=%v", rewritten, changed)
	}

	if err := f.ResponsePhase("req-5"); err != nil {
		t.Fatalf("ResponsePhase: %v", err)
	}
	if len(api.removed) != 1 || len(api.modified) != 0 {
		t.Errorf("expected only a remove scheduled when a non-modifying rule also applies, got removed=%v modified=%v", api.removed, api.modified)
	}
}
