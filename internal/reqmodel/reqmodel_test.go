package reqmodel

import (
	"strings"
	"testing"
)

func TestHostname(t *testing.T) {
	cases := map[string]string{
		"https://example.org/path":        "example.org",
		"http://EXAMPLE.org:8080/x":       "example.org",
		"//example.org/x":                 "example.org",
		"example.org/x?a=1":               "example.org",
		"https://user:pw@example.org/x":   "example.org",
		"https://example.org.":            "example.org",
		"https://[::1]:8080/x":            "[::1]:8080",
	}
	for in, want := range cases {
		if got := Hostname(in); got != want {
			t.Errorf("Hostname(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistrableDomain(t *testing.T) {
	if got := RegistrableDomain("a.b.example.com"); got != "example.com" {
		t.Errorf("RegistrableDomain = %q, want example.com", got)
	}
	if got := RegistrableDomain(""); got != "" {
		t.Errorf("RegistrableDomain(\"\") = %q, want empty", got)
	}
}

func TestSubdomains(t *testing.T) {
	got := Subdomains("a.b.example.com")
	want := []string{"a.b.example.com", "b.example.com", "example.com", "com"}
	if len(got) != len(want) {
		t.Fatalf("Subdomains length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Subdomains[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestNewThirdParty checks third_party derivation against the registrable
// domain, not the bare hostname.
func TestNewThirdParty(t *testing.T) {
	req := New("https://cdn.ads.example.org/x", "https://shop.example.org/", TypeScript, "")
	if req.ThirdParty {
		t.Errorf("same registrable domain should not be third-party")
	}

	req2 := New("https://tracker.example.net/x", "https://shop.example.org/", TypeScript, "")
	if !req2.ThirdParty {
		t.Errorf("different registrable domain should be third-party")
	}
}

func TestNewGeneratesRequestID(t *testing.T) {
	req := New("https://example.org/", "", TypeDocument, "")
	if req.RequestID == "" {
		t.Errorf("expected a generated request id")
	}

	req2 := New("https://example.org/", "", TypeDocument, "fixed-id")
	if req2.RequestID != "fixed-id" {
		t.Errorf("expected supplied request id to be kept, got %q", req2.RequestID)
	}
}

// TestURLScanLengthCap covers testable property 8: a 10,000-char URL is
// truncated to exactly 4096 chars before any scan.
func TestURLScanLengthCap(t *testing.T) {
	long := "https://example.org/" + strings.Repeat("a", 10000)
	req := New(long, "", TypeDocument, "")
	if len(req.URLLowercase) != MaxURLScanLength {
		t.Fatalf("URLLowercase length = %d, want %d", len(req.URLLowercase), MaxURLScanLength)
	}
}

func TestParseRequestType(t *testing.T) {
	if t1, ok := ParseRequestType("script"); !ok || t1 != TypeScript {
		t.Errorf("ParseRequestType(script) = %v, %v", t1, ok)
	}
	if _, ok := ParseRequestType("not-a-type"); ok {
		t.Errorf("expected unknown type to report ok=false")
	}
}
