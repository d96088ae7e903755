package linereader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestStringLineReaderKeepsNewlines checks the byte-accurate contract the
// indexed scanner depends on: each yielded line includes the newline it
// consumed, and the byte lengths sum to the source length.
func TestStringLineReaderKeepsNewlines(t *testing.T) {
	src := "||example.org\n! test\n##banner"
	r := NewStringLineReader(src)

	var lines []string
	total := 0
	for {
		line, ok := r.ReadLine()
		if !ok {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}

	want := []string{"||example.org\n", "! test\n", "##banner"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if total != len(src) {
		t.Errorf("line byte lengths sum to %d, want %d", total, len(src))
	}
}

func TestStringLineReaderEmptySource(t *testing.T) {
	r := NewStringLineReader("")
	if line, ok := r.ReadLine(); ok {
		t.Errorf("expected immediate end, got %q", line)
	}
}

func TestFileLineReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(path, []byte("||a.com^\n||b.com^\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewFileLineReader(path)
	if err != nil {
		t.Fatalf("NewFileLineReader: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		if _, ok := r.ReadLine(); !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("read %d lines, want 2", count)
	}
	if err := r.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestFileLineReaderOpenError(t *testing.T) {
	_, err := NewFileLineReader(filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Fatalf("expected an IoError for a missing file")
	}
	var ioErr *IoError
	if !errors.As(err, &ioErr) {
		t.Errorf("expected *IoError, got %T", err)
	}
}
