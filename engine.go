// Package ruleengine is the content-blocking engine facade: rule loading,
// request matching, cosmetic lookup, and the per-request cookie phases. It
// wires together the storage/scanner, network index, cosmetic engine,
// cookie filter, filtering log, match cache and telemetry packages,
// defaulting every optional collaborator and letting a host override what
// it needs.
package ruleengine

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"ruleengine/internal/cookiefilter"
	"ruleengine/internal/cosmetic"
	"ruleengine/internal/engineconfig"
	"ruleengine/internal/filteringlog"
	"ruleengine/internal/matchcache"
	"ruleengine/internal/netindex"
	"ruleengine/internal/redaction"
	"ruleengine/internal/reqmodel"
	"ruleengine/internal/rlog"
	"ruleengine/internal/rule"
	"ruleengine/internal/rulestorage"
	"ruleengine/internal/telemetry"
	"ruleengine/internal/verdict"
)

// Engine is the matching/cosmetic/cookie-filtering facade bound to one
// RuleStorage. Its index structures are built once at load time and are
// safe to share across goroutines thereafter; LoadRules and
// LoadRulesAsync themselves are not meant to run concurrently with each
// other or with matching.
type Engine struct {
	storage *rulestorage.RuleStorage
	config  *engineconfig.Config

	index    *netindex.Index
	cosmetic *cosmetic.Engine
	cookies  *cookiefilter.Filter

	filteringLog filteringlog.FilteringLog
	cache        matchcache.Store
	telemetry    *telemetry.Provider
}

// noopCookieAPI is the CookieApi collaborator used until a host supplies a
// real cookie jar binding; every call is a no-op.
type noopCookieAPI struct{}

func (noopCookieAPI) RemoveCookie(name, url string) error { return nil }

func (noopCookieAPI) ModifyCookie(c cookiefilter.BrowserCookie, url string) error { return nil }

func (noopCookieAPI) GetCookies(name, url string) ([]cookiefilter.BrowserCookie, error) {
	return nil, nil
}

// NewEngine builds an engine bound to storage and cfg. If cfg is nil,
// engineconfig.Default() applies. Unless skipScan is set, NewEngine runs a
// synchronous LoadRules before returning, so the engine is immediately
// ready to match; skipScan leaves the indexes empty until the caller
// invokes LoadRules or LoadRulesAsync itself.
func NewEngine(storage *rulestorage.RuleStorage, cfg *engineconfig.Config, skipScan bool) (*Engine, error) {
	return NewWithCookieAPI(storage, cfg, skipScan, noopCookieAPI{})
}

// NewWithCookieAPI builds an engine with a caller-supplied CookieApi
// cookie jar binding. Hosts that never call ProcessRequestHeaders or
// ModifyCookies can ignore this and use NewEngine instead.
func NewWithCookieAPI(storage *rulestorage.RuleStorage, cfg *engineconfig.Config, skipScan bool, api cookiefilter.CookieApi) (*Engine, error) {
	if cfg == nil {
		d := engineconfig.Default()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rlog.Configure(cfg.Verbose)

	tp, err := telemetry.NewProvider(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	flog, err := buildFilteringLog(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing filtering log: %w", err)
	}

	cache, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("initializing match cache: %w", err)
	}

	if api == nil {
		api = noopCookieAPI{}
	}
	cookies := cookiefilter.New(api)
	cookies.SetEventLog(flog)

	e := &Engine{
		storage:      storage,
		config:       cfg,
		index:        netindex.New(storage),
		cosmetic:     cosmetic.New(),
		cookies:      cookies,
		filteringLog: flog,
		cache:        cache,
		telemetry:    tp,
	}

	if !skipScan {
		if err := e.LoadRules(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func buildFilteringLog(cfg engineconfig.StorageConfig) (filteringlog.FilteringLog, error) {
	if !cfg.Enabled {
		return filteringlog.NewMemoryLog(redaction.NewURLRedactor()), nil
	}
	return filteringlog.NewSQLiteLog(cfg.Path, redaction.NewURLRedactor())
}

func buildCache(cfg engineconfig.CacheConfig) (matchcache.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	ttl := time.Minute
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, &engineconfig.InvalidConfiguration{Field: "cache.ttl", Reason: err.Error()}
		}
		ttl = d
	}

	if cfg.Backend == "redis" {
		return matchcache.NewRedisStore(matchcache.RedisConfig{Addr: cfg.Addr, DB: cfg.DB}, ttl)
	}
	return matchcache.NewMemoryStore(ttl), nil
}

// LoadRules synchronously scans every registered list and indexes every
// rule it yields, never handing control back to the caller mid-scan.
func (e *Engine) LoadRules() error {
	return e.loadRules(0)
}

// LoadRulesAsync scans every registered list the same way LoadRules does,
// but cooperatively yields every chunkSize rules so a host running the
// engine on a UI or request-serving goroutine stays responsive. chunkSize
// <= 0 falls back to the engine's configured chunk size.
func (e *Engine) LoadRulesAsync(chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = e.config.ChunkSize
	}
	return e.loadRules(chunkSize)
}

func (e *Engine) loadRules(chunkSize int) error {
	_, span := e.telemetry.StartLoadSpan(context.Background(), e.storage.ListCount(), chunkSize)

	// A reload rebuilds both indexes from scratch; any cached verdicts
	// refer to the previous ruleset and must go with them.
	e.index = netindex.New(e.storage)
	e.cosmetic = cosmetic.New()
	if e.cache != nil {
		e.cache.Clear()
	}

	kinds := rulestorage.ScanAll
	if e.config.IgnoreCosmetic {
		kinds = rulestorage.ScanNetwork
	}

	scanner := e.storage.CreateScanner(kinds, e.config.HostsMode)
	n := 0
	for scanner.Scan() {
		ir, ok := scanner.GetRule()
		if !ok {
			continue
		}

		switch ir.Rule.Kind {
		case rule.KindNetwork:
			e.index.AddRule(ir.Rule.Network, ir.Index)
		case rule.KindCosmetic:
			e.cosmetic.AddRule(ir.Rule.Cosmetic)
		}

		n++
		if chunkSize > 0 && n%chunkSize == 0 {
			runtime.Gosched()
		}
	}

	if skipped := scanner.SyntaxErrors(); skipped > 0 {
		rlog.L().Warn("skipped unparseable rules", "count", skipped)
	}

	e.telemetry.EndLoadSpan(span, e.RulesCount(), nil)
	return nil
}

// MatchRequest returns the MatchingResult for req: every matching network
// rule reduced through internal/verdict, consulting the match cache first
// when one is configured. Matching never fails; a degenerate request
// (empty URL) simply matches nothing.
func (e *Engine) MatchRequest(req *reqmodel.Request) verdict.MatchingResult {
	_, span := e.telemetry.StartMatchSpan(context.Background(), req.URL, req.SourceURL, int(req.Type))

	var cacheKey string
	if e.cache != nil {
		cacheKey = matchcache.Key(req)
		if cv, ok := e.cache.Get(cacheKey); ok {
			result := fromCachedVerdict(cv)
			e.telemetry.EndMatchSpan(span, result.IsBlocking(), result.Allowlisted)
			return result
		}
	}

	matched := e.index.MatchAll(req)

	sourceURL := req.SourceURL
	if sourceURL == "" {
		sourceURL = req.URL
	}
	sourceReq := reqmodel.New(sourceURL, sourceURL, reqmodel.TypeDocument, req.RequestID)
	sourceRules := e.index.MatchAll(sourceReq)

	result := verdict.Reduce(matched, sourceRules)

	if e.cache != nil {
		e.cache.Put(cacheKey, matchcache.FromMatchingResult(result))
	}

	if rules := replaceRulesOf(matched); len(rules) > 0 {
		if err := e.filteringLog.AddReplaceRulesEvent(req.RequestID, req.URL, rules); err != nil {
			rlog.L().Warn("filtering log replace-rules event failed", "error", err)
		}
	}

	e.telemetry.EndMatchSpan(span, result.IsBlocking(), result.Allowlisted)
	return result
}

// fromCachedVerdict reconstructs a MatchingResult from a cache hit. The
// cache doesn't round-trip rule pointers (a restart invalidates storage
// indexes anyway), so Basic is a synthetic placeholder rule used only to
// carry the cached whitelist/blocking shape through IsBlocking(); callers
// that need the actual matched rule must not rely on it after a cache hit.
func fromCachedVerdict(cv matchcache.CachedVerdict) verdict.MatchingResult {
	var basic *rule.NetworkRule
	if cv.Blocking {
		basic = &rule.NetworkRule{}
	}
	return verdict.MatchingResult{
		Basic:       basic,
		Allowlisted: cv.Allowlisted,
		Modifiers: verdict.ModifierSet{
			CSP:      cv.CSP,
			Replace:  cv.Replace,
			Redirect: cv.Redirect,
			Stealth:  cv.Stealth,
		},
	}
}

func replaceRulesOf(candidates []netindex.Candidate) []*rule.NetworkRule {
	var out []*rule.NetworkRule
	for _, c := range candidates {
		if len(c.Rule.Modifiers.Replace) > 0 {
			out = append(out, c.Rule)
		}
	}
	return out
}

// GetCosmeticResult returns the cosmetic rules applicable to hostname under
// mask, reporting the rule counts through the filtering log's HTML event.
func (e *Engine) GetCosmeticResult(hostname string, mask cosmetic.Option) cosmetic.Result {
	_, span := e.telemetry.StartCosmeticSpan(context.Background(), hostname)
	defer span.End()

	result := e.cosmetic.Match(hostname, mask)

	if err := e.filteringLog.AddHTMLEvent("", hostname, filteringlog.HTMLEventData{
		ElementHideCount: len(result.ElementHide),
		CSSInjectCount:   len(result.CSS),
		HTMLRuleCount:    len(result.HTML),
	}); err != nil {
		rlog.L().Warn("filtering log html event failed", "error", err)
	}

	return result
}

// RulesCount returns the number of rules accepted into either index so
// far.
func (e *Engine) RulesCount() int {
	return e.index.RulesCount() + e.cosmetic.RulesCount()
}

// ProcessRequestHeaders is the request half of the cookie-phase pair: it
// rewrites headers' Cookie value per cookieRules and schedules the
// matching response-phase actions under requestID. Must be called at most
// once per request, strictly before ModifyCookies.
func (e *Engine) ProcessRequestHeaders(requestID, url string, headers http.Header, cookieRules []*rule.NetworkRule) (string, bool) {
	return e.cookies.RequestHeadersPhase(requestID, url, headers, cookieRules)
}

// ModifyCookies is the response half of the cookie-phase pair: it drains
// the schedule ProcessRequestHeaders built for requestID against the
// engine's CookieApi collaborator. Must be called exactly once per
// request, after ProcessRequestHeaders.
func (e *Engine) ModifyCookies(requestID string) error {
	return e.cookies.ResponsePhase(requestID)
}

// Close releases every resource the engine opened: the telemetry
// provider's exporter connection and, if configured, the persisted
// filtering log and Redis cache client.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	ctx, cancel := telemetry.ContextWithTimeout(5 * time.Second)
	defer cancel()
	record(e.telemetry.Shutdown(ctx))

	if c, ok := e.filteringLog.(interface{ Close() error }); ok {
		record(c.Close())
	}
	if c, ok := e.cache.(interface{ Close() error }); ok {
		record(c.Close())
	}
	return firstErr
}
