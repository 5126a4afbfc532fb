package storage

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPreferenceRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if err := store.SetPreference("greeting", "hello"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, found, err := store.Preference("greeting")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found || value != "hello" {
		t.Errorf("expected hello, got %q (found=%t)", value, found)
	}
}

func TestPreferenceMissingKey(t *testing.T) {
	store := openTestStore(t)

	value, found, err := store.Preference("never-set")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found || value != "" {
		t.Errorf("expected not found, got %q (found=%t)", value, found)
	}
}

func TestPreferenceOverwrite(t *testing.T) {
	store := openTestStore(t)

	store.SetPreference("k", "first")
	if err := store.SetPreference("k", "second"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	value, _, err := store.Preference("k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "second" {
		t.Errorf("expected second, got %q", value)
	}
}

func TestTypedPreferences(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveLastSection("system"); err != nil {
		t.Fatalf("save section failed: %v", err)
	}
	if err := store.SaveTheme("light"); err != nil {
		t.Fatalf("save theme failed: %v", err)
	}
	if err := store.SaveCueVolume("80"); err != nil {
		t.Fatalf("save volume failed: %v", err)
	}

	if s, found, _ := store.LastSection(); !found || s != "system" {
		t.Errorf("last section: got %q (found=%t)", s, found)
	}
	if th, found, _ := store.Theme(); !found || th != "light" {
		t.Errorf("theme: got %q (found=%t)", th, found)
	}
	if v, found, _ := store.CueVolume(); !found || v != "80" {
		t.Errorf("cue volume: got %q (found=%t)", v, found)
	}
}

func TestPreferencesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	store.SaveLastSection("files")
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	s, found, err := reopened.LastSection()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found || s != "files" {
		t.Errorf("preference lost across reopen: %q (found=%t)", s, found)
	}
}
