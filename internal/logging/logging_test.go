package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSinkWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lifesync.log")
	s := NewSink(Options{File: path, MaxSizeMB: 1, Quiet: true})
	defer s.Close()

	s.Logger("engine").Printf("Flushed %d records", 3)
	s.Logger("relay").Print("listening")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), data)
	}
	tests := []struct {
		line   string
		prefix string
		msg    string
	}{
		{lines[0], "[engine] ", "Flushed 3 records"},
		{lines[1], "[relay] ", "listening"},
	}
	for _, tt := range tests {
		if !strings.HasPrefix(tt.line, tt.prefix) {
			t.Errorf("line %q does not start with %q", tt.line, tt.prefix)
		}
		if !strings.HasSuffix(tt.line, tt.msg) {
			t.Errorf("line %q does not end with %q", tt.line, tt.msg)
		}
	}
}

func TestLoggerIsCached(t *testing.T) {
	s := NewSink(Options{Quiet: true})
	if s.Logger("inbox") != s.Logger("inbox") {
		t.Error("Logger returned a new instance for the same component")
	}
	if s.Logger("inbox") == s.Logger("engine") {
		t.Error("Logger shared an instance across components")
	}
	if got := s.Logger("inbox").Prefix(); got != "[inbox] " {
		t.Errorf("Prefix() = %q", got)
	}
}

func TestRotateAndCloseWithoutFile(t *testing.T) {
	s := NewSink(Options{Quiet: true})
	if err := s.Rotate(); err != nil {
		t.Errorf("Rotate failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRotateKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lifesync.log")
	s := NewSink(Options{File: path, MaxBackups: 2, Quiet: true})
	defer s.Close()

	s.Logger("engine").Print("before")
	if err := s.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	s.Logger("engine").Print("after")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Errorf("expected a rotated backup next to the log, got %d files", len(entries))
	}
}
