// Package reqmodel defines the Request record used across the matching
// engine and the small set of URL/domain helpers it depends on.
package reqmodel

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

// MaxURLScanLength is the cap applied to url_lowercase before any scan.
const MaxURLScanLength = 4096

// RequestType enumerates the resource category of an outbound request.
type RequestType int

// RequestType values. Bit-packed so a NetworkRule can restrict to a set of
// types with a single mask.
const (
	TypeDocument RequestType = 1 << iota
	TypeSubdocument
	TypeStylesheet
	TypeScript
	TypeImage
	TypeFont
	TypeMedia
	TypeXMLHTTPRequest
	TypeWebsocket
	TypeOther
)

// AllTypes is the mask matching every request type.
const AllTypes = TypeDocument | TypeSubdocument | TypeStylesheet | TypeScript |
	TypeImage | TypeFont | TypeMedia | TypeXMLHTTPRequest | TypeWebsocket | TypeOther

var typeNames = map[string]RequestType{
	"document":       TypeDocument,
	"subdocument":    TypeSubdocument,
	"stylesheet":     TypeStylesheet,
	"script":         TypeScript,
	"image":          TypeImage,
	"font":           TypeFont,
	"media":          TypeMedia,
	"xmlhttprequest": TypeXMLHTTPRequest,
	"websocket":      TypeWebsocket,
	"other":          TypeOther,
}

// ParseRequestType maps a modifier key to its RequestType bit. ok is false
// for unrecognised keys.
func ParseRequestType(key string) (RequestType, bool) {
	t, ok := typeNames[strings.ToLower(key)]
	return t, ok
}

// Request is one outbound HTTP request as supplied by the host.
type Request struct {
	URL            string
	URLLowercase   string
	Hostname       string
	SourceURL      string
	SourceHostname string
	Type           RequestType
	ThirdParty     bool
	RequestID      string
}

// New builds a Request, deriving url_lowercase, hostname, source_hostname
// and third_party from the raw URLs. If requestID is empty, a fresh one
// is generated (the host may omit request IDs; the cookie state machine
// needs a stable key per transaction either way).
func New(rawURL, sourceURL string, typ RequestType, requestID string) *Request {
	lower := strings.ToLower(rawURL)

	r := &Request{
		URL:          rawURL,
		URLLowercase: truncate(lower, MaxURLScanLength),
		Hostname:     Hostname(rawURL),
		SourceURL:    sourceURL,
		Type:         typ,
		RequestID:    requestID,
	}
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if sourceURL != "" {
		r.SourceHostname = Hostname(sourceURL)
		r.ThirdParty = r.SourceHostname != "" && r.Hostname != "" &&
			RegistrableDomain(r.SourceHostname) != RegistrableDomain(r.Hostname)
	}
	return r
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Hostname extracts the host component of a URL without a scheme parser
// dependency beyond the stdlib-adjacent manual split used throughout the
// filter-list ecosystem (malformed/partial URLs are common in rule text and
// must degrade gracefully rather than error).
func Hostname(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if strings.HasPrefix(s, "//") {
		s = s[2:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		// Don't strip a port from an IPv6 literal.
		if !strings.Contains(s, "]") {
			s = s[:i]
		}
	}
	return strings.TrimSuffix(strings.ToLower(s), ".")
}

// RegistrableDomain returns the eTLD+1 of a hostname using the public
// suffix list, falling back to the hostname itself when it can't be
// resolved (e.g. a bare IP literal or an unlisted TLD).
func RegistrableDomain(hostname string) string {
	if hostname == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return hostname
	}
	return domain
}

// Subdomains returns every suffix of hostname from most specific to the
// TLD, e.g. "a.b.example.com" -> ["a.b.example.com", "b.example.com",
// "example.com", "com"]. Used by the network engine's domain-table lookup.
func Subdomains(hostname string) []string {
	if hostname == "" {
		return nil
	}
	parts := strings.Split(hostname, ".")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[i:], "."))
	}
	return out
}
