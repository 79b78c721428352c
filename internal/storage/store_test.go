package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set("auth.access_token", "tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := s.Get("auth.access_token"); !ok || v != "tok-1" {
		t.Errorf("Get = %q, %v; want tok-1, true", v, ok)
	}

	// A second store on the same file must see the persisted value.
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore (reopen): %v", err)
	}
	if v, ok := s2.Get("auth.access_token"); !ok || v != "tok-1" {
		t.Errorf("reopened Get = %q, %v; want tok-1, true", v, ok)
	}
}

func TestFileStore_DeleteAndKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, kv := range [][2]string{
		{"auth.access_token", "a"},
		{"auth.refresh_token", "b"},
		{"device.id", "c"},
	} {
		if err := s.Set(kv[0], kv[1]); err != nil {
			t.Fatalf("Set %s: %v", kv[0], err)
		}
	}
	keys := s.Keys("auth.")
	if len(keys) != 2 || keys[0] != "auth.access_token" || keys[1] != "auth.refresh_token" {
		t.Errorf("Keys(auth.) = %v", keys)
	}
	if err := s.Delete("auth.access_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("auth.access_token"); err != nil {
		t.Errorf("Delete absent key: %v", err)
	}
	if _, ok := s.Get("auth.access_token"); ok {
		t.Error("deleted key still present")
	}
	if _, ok := s.Get("device.id"); !ok {
		t.Error("unrelated key removed")
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Error("NewFileStore on corrupt file should fail")
	}
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	dir := t.TempDir()
	// A directory at the store path makes the file store unreadable.
	path := filepath.Join(dir, "state.json")
	if err := os.Mkdir(path, 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	s := Open(path)
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("Open = %T, want *MemoryStore fallback", s)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Errorf("fallback Set: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set("device.id", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := s.Get("device.id"); !ok || v != "abc" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	if err := s.Delete("device.id"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("device.id"); ok {
		t.Error("deleted key still present")
	}
}
