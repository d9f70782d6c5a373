package nativelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolveDir_precedence(t *testing.T) {
	t.Setenv(EnvLogDir, "/from/env")
	if got := ResolveDir(" /explicit "); got != "/explicit" {
		t.Errorf("explicit: %q", got)
	}
	if got := ResolveDir(""); got != "/from/env" {
		t.Errorf("env: %q", got)
	}
}

func TestWriter_dailyFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	if _, err := w.Write([]byte("one\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("two\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "stdout_3-4-26.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "one\ntwo\n") {
		t.Errorf("file = %q", data)
	}
}
