package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesParentsAndMode(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nested", "settings.yaml")
	if err := WriteFileAtomic(path, []byte("provider: mock\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("provider: gemini\n"), 0o600); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "provider: gemini\n" {
		t.Fatalf("read back: %q %v", b, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeper", "history.json")
	if err := WriteJSONAtomic(path, map[string]int{"n": 3}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil || got["n"] != 3 {
		t.Fatalf("decode json: %v %v", got, err)
	}
}

func TestWriteJSONAtomicRejectsUnencodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := WriteJSONAtomic(path, map[string]any{"f": func() {}}); err == nil {
		t.Fatal("expected encode error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist: %v", err)
	}
}
