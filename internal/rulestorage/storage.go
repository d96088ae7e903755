// Package rulestorage implements the rule storage and scanner: an ordered
// collection of filter lists, each rule assigned a stable, globally-unique
// storage_index, retrievable for the storage's lifetime.
package rulestorage

import (
	"strings"

	"ruleengine/internal/linereader"
	"ruleengine/internal/rlog"
	"ruleengine/internal/rule"
)

// list is one (list_id, list_text) entry.
type list struct {
	id   int32
	text string
}

// RuleStorage is an ordered collection of filter lists. A rule, once
// stored, is immutable; indexes are never reused.
type RuleStorage struct {
	lists   []list
	records map[int64]*rule.Rule
}

// New creates an empty storage.
func New() *RuleStorage {
	return &RuleStorage{
		records: make(map[int64]*rule.Rule),
	}
}

// AddList registers a filter list's raw text under listID. Lists can be
// added incrementally; each gets its own offset space in the packed
// storage_index.
func (s *RuleStorage) AddList(listID int32, text string) {
	s.lists = append(s.lists, list{id: listID, text: text})
}

// AddListFromFile reads the filter list at path line by line and registers
// its text under listID. Returns *linereader.IoError when the file cannot
// be opened.
func (s *RuleStorage) AddListFromFile(listID int32, path string) error {
	r, err := linereader.NewFileLineReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var b strings.Builder
	for {
		line, ok := r.ReadLine()
		if !ok {
			break
		}
		b.WriteString(line)
	}
	s.AddList(listID, b.String())
	return nil
}

// ListCount returns the number of filter lists registered so far.
func (s *RuleStorage) ListCount() int {
	return len(s.lists)
}

// packIndex encodes (listID, offset) into a single int64 storage_index, the
// list ID occupying the high 32 bits.
func packIndex(listID int32, offset int64) int64 {
	return (int64(uint32(listID)) << 32) | (offset & 0xffffffff)
}

// UnpackIndex recovers the (listID, offset) pair from a storage_index.
func UnpackIndex(index int64) (listID int32, offset int64) {
	return int32(index >> 32), index & 0xffffffff
}

// store records rule r at the given packed index. A later scan of the same
// list replaces the record with a fresh parse of the same text at the same
// offset, so the rule an index refers to never changes.
func (s *RuleStorage) store(index int64, r *rule.Rule) {
	s.records[index] = r
}

// RetrieveRule looks a rule up by its storage_index. ok is false when the
// index is unknown; callers must treat that as "rule removed".
func (s *RuleStorage) RetrieveRule(index int64) (*rule.Rule, bool) {
	r, ok := s.records[index]
	return r, ok
}

// IndexedRule pairs a parsed rule with its stable storage index.
type IndexedRule struct {
	Rule  *rule.Rule
	Index int64
}

// ScanKind selects which rule kinds a Scanner yields.
type ScanKind int

const (
	ScanNetwork ScanKind = 1 << iota
	ScanCosmetic
)

// ScanAll yields every rule kind.
const ScanAll = ScanNetwork | ScanCosmetic

func (k ScanKind) admits(r *rule.Rule) bool {
	switch r.Kind {
	case rule.KindNetwork:
		return k&ScanNetwork != 0
	case rule.KindCosmetic:
		return k&ScanCosmetic != 0
	default:
		return false
	}
}

// Scanner is a forward, single-pass, non-restartable lazy sequence over a
// RuleStorage's lists.
type Scanner struct {
	storage   *RuleStorage
	kinds     ScanKind
	hostsMode bool

	listIdx int
	reader  linereader.LineReader
	pos     int64 // byte offset within the current list

	current      IndexedRule
	hasRule      bool
	syntaxErrors int
}

// CreateScanner returns a new forward scanner over every list registered
// with s, yielding only the kinds selected by kinds. hostsMode enables
// "IP HOSTNAME" -> "||HOSTNAME^" conversion.
func (s *RuleStorage) CreateScanner(kinds ScanKind, hostsMode bool) *Scanner {
	return &Scanner{storage: s, kinds: kinds, hostsMode: hostsMode}
}

// Scan advances the scanner to the next rule, skipping blank/comment lines
// and logging-and-continuing past syntax errors — the scanner never aborts
// on one bad line.
func (sc *Scanner) Scan() bool {
	for {
		if sc.reader == nil {
			if !sc.openNextList() {
				sc.hasRule = false
				return false
			}
		}

		line, ok := sc.reader.ReadLine()
		if !ok {
			sc.reader.Close()
			sc.reader = nil
			sc.listIdx++
			continue
		}

		startPos := sc.pos
		sc.pos += int64(len(line))

		text := strings.TrimRight(line, "\r\n")
		if sc.hostsMode {
			converted, keep := convertHostsLine(text)
			if !keep {
				continue
			}
			text = converted
		}

		listID := sc.storage.lists[sc.listIdx].id
		parsed, err := rule.Parse(text, listID)
		if err != nil {
			sc.syntaxErrors++
			rlog.L().Debug("skipping unparseable rule", "list_id", listID, "offset", startPos, "error", err)
			continue
		}
		if parsed == nil || !sc.kinds.admits(parsed) {
			continue
		}

		index := packIndex(listID, startPos)
		sc.storage.store(index, parsed)
		sc.current = IndexedRule{Rule: parsed, Index: index}
		sc.hasRule = true
		return true
	}
}

// SyntaxErrors returns how many lines were skipped as unparseable so far;
// per-rule errors are absorbed and counted, never surfaced.
func (sc *Scanner) SyntaxErrors() int {
	return sc.syntaxErrors
}

func (sc *Scanner) openNextList() bool {
	if sc.listIdx >= len(sc.storage.lists) {
		return false
	}
	sc.reader = linereader.NewStringLineReader(sc.storage.lists[sc.listIdx].text)
	sc.pos = 0
	return true
}

// GetRule returns the scanner's current IndexedRule, or the zero value and
// false if Scan has not yet returned true.
func (sc *Scanner) GetRule() (IndexedRule, bool) {
	return sc.current, sc.hasRule
}

// convertHostsLine converts a hosts-file "IP HOSTNAME" line into a
// "||HOSTNAME^" network rule line. Lines that aren't hosts
// entries pass through unchanged; plumbing entries for localhost and
// friends return keep=false and are dropped entirely.
func convertHostsLine(line string) (converted string, keep bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] == '#' {
		return line, true
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 2 || !looksLikeIP(fields[0]) {
		return line, true
	}
	host := fields[1]
	if host == "localhost" || host == "localhost.localdomain" || host == "broadcasthost" || host == "local" {
		return "", false
	}
	return "||" + host + "^", true
}

func looksLikeIP(s string) bool {
	dots := 0
	for _, r := range s {
		if r == '.' {
			dots++
			continue
		}
		if r == ':' {
			return true // crude IPv6 check
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return dots == 3
}
