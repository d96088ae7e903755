// Package filteringlog implements the observation-only FilteringLog sink
// the engine reports its decisions to. An in-memory sink is the default;
// an optional sqlite-backed sink persists events across engine restarts
// for hosts that want a durable audit trail.
package filteringlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ruleengine/internal/redaction"
	"ruleengine/internal/rule"
)

// EventType distinguishes the three collaborator calls.
type EventType string

const (
	EventHTML         EventType = "html"
	EventReplaceRules EventType = "replace_rules"
	EventCookie       EventType = "cookie"
)

// Event is one immutable filtering-log record.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	RequestID string          `json:"request_id"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data"`
}

// HTMLEventData is the payload for addHtmlEvent.
type HTMLEventData struct {
	ElementHideCount int `json:"element_hide_count"`
	CSSInjectCount   int `json:"css_inject_count"`
	HTMLRuleCount    int `json:"html_rule_count"`
}

// ReplaceRulesEventData is the payload for addReplaceRulesEvent.
type ReplaceRulesEventData struct {
	Patterns []string `json:"patterns"`
}

// CookieEventData is the payload for addCookieEvent.
type CookieEventData struct {
	CookieName   string   `json:"cookie_name"`
	Removed      bool     `json:"removed"`
	RulePatterns []string `json:"rule_patterns"`
}

// FilteringLog is the collaborator the engine reports match side-effects
// to.
type FilteringLog interface {
	AddHTMLEvent(requestID, url string, data HTMLEventData) error
	AddReplaceRulesEvent(requestID, url string, rules []*rule.NetworkRule) error
	AddCookieEvent(requestID, url, cookieName string, rules []*rule.NetworkRule, removed bool) error
}

func patternsOf(rules []*rule.NetworkRule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Pattern)
	}
	return out
}

// MemoryLog is the default in-process FilteringLog: an append-only slice
// guarded by a mutex.
type MemoryLog struct {
	mu       sync.Mutex
	events   []Event
	nextID   int64
	redactor redaction.Redactor
}

// NewMemoryLog builds an empty in-memory filtering log. redactor may be nil,
// in which case logged URLs are stored unredacted.
func NewMemoryLog(redactor redaction.Redactor) *MemoryLog {
	if redactor == nil {
		redactor = &redaction.NoopRedactor{}
	}
	return &MemoryLog{redactor: redactor}
}

func (l *MemoryLog) record(typ EventType, requestID, url string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal filtering log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.events = append(l.events, Event{
		ID:        l.nextID,
		Timestamp: time.Now(),
		Type:      typ,
		RequestID: requestID,
		URL:       l.redactor.Redact(url),
		Data:      payload,
	})
	return nil
}

func (l *MemoryLog) AddHTMLEvent(requestID, url string, data HTMLEventData) error {
	return l.record(EventHTML, requestID, url, data)
}

func (l *MemoryLog) AddReplaceRulesEvent(requestID, url string, rules []*rule.NetworkRule) error {
	return l.record(EventReplaceRules, requestID, url, ReplaceRulesEventData{Patterns: patternsOf(rules)})
}

func (l *MemoryLog) AddCookieEvent(requestID, url, cookieName string, rules []*rule.NetworkRule, removed bool) error {
	return l.record(EventCookie, requestID, url, CookieEventData{
		CookieName:   cookieName,
		Removed:      removed,
		RulePatterns: patternsOf(rules),
	})
}

// Events returns a snapshot of every event recorded so far.
func (l *MemoryLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// SQLiteLog persists filtering-log events to a sqlite database, a durable
// audit trail for hosts that want decisions to survive restarts.
type SQLiteLog struct {
	db       *sql.DB
	redactor redaction.Redactor
}

// NewSQLiteLog opens (creating if necessary) a sqlite-backed filtering log
// at path. redactor may be nil, in which case logged URLs are stored
// unredacted.
func NewSQLiteLog(path string, redactor redaction.Redactor) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening filtering log database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if redactor == nil {
		redactor = &redaction.NoopRedactor{}
	}
	log := &SQLiteLog{db: db, redactor: redactor}
	if err := log.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating filtering log schema: %w", err)
	}

	slog.Info("filtering log storage initialized", "path", path)
	return log, nil
}

func (l *SQLiteLog) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS filtering_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			event_type TEXT NOT NULL,
			request_id TEXT NOT NULL,
			url TEXT NOT NULL,
			data TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_filtering_events_request ON filtering_events(request_id);
		CREATE INDEX IF NOT EXISTS idx_filtering_events_type ON filtering_events(event_type);
	`)
	return err
}

func (l *SQLiteLog) record(typ EventType, requestID, url string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal filtering log event: %w", err)
	}
	_, err = l.db.ExecContext(context.Background(), `
		INSERT INTO filtering_events (timestamp, event_type, request_id, url, data)
		VALUES (?, ?, ?, ?, ?)`,
		time.Now(), string(typ), requestID, l.redactor.Redact(url), string(payload),
	)
	if err != nil {
		return fmt.Errorf("recording filtering log event: %w", err)
	}
	return nil
}

func (l *SQLiteLog) AddHTMLEvent(requestID, url string, data HTMLEventData) error {
	return l.record(EventHTML, requestID, url, data)
}

func (l *SQLiteLog) AddReplaceRulesEvent(requestID, url string, rules []*rule.NetworkRule) error {
	return l.record(EventReplaceRules, requestID, url, ReplaceRulesEventData{Patterns: patternsOf(rules)})
}

func (l *SQLiteLog) AddCookieEvent(requestID, url, cookieName string, rules []*rule.NetworkRule, removed bool) error {
	return l.record(EventCookie, requestID, url, CookieEventData{
		CookieName:   cookieName,
		Removed:      removed,
		RulePatterns: patternsOf(rules),
	})
}

// ListEvents retrieves events for a request, most recent first.
func (l *SQLiteLog) ListEvents(requestID string) ([]Event, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, event_type, request_id, url, data
		FROM filtering_events WHERE request_id = ? ORDER BY timestamp DESC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("listing filtering log events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var dataStr string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.RequestID, &e.URL, &dataStr); err != nil {
			return nil, fmt.Errorf("scanning filtering log event: %w", err)
		}
		e.Data = json.RawMessage(dataStr)
		events = append(events, e)
	}
	return events, nil
}

// Close closes the underlying database handle.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
