package history

import (
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return s, path
}

func TestAddPrependsNewestFirst(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if _, err := s.Add("first", "first raw"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := s.Add("second", "second raw"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	entries := s.All(0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "second" || entries[1].Text != "first" {
		t.Fatalf("entries not newest-first: %q, %q", entries[0].Text, entries[1].Text)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Fatalf("entries need distinct ids: %q vs %q", entries[0].ID, entries[1].ID)
	}
	if entries[0].RawText != "second raw" {
		t.Fatalf("raw text not kept: %q", entries[0].RawText)
	}
}

func TestAddEnforcesCap(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	for i := 0; i < MaxEntries+3; i++ {
		if _, err := s.Add("entry", "entry"); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
	}
	if got := len(s.All(0)); got != MaxEntries {
		t.Fatalf("expected cap at %d, got %d", MaxEntries, got)
	}
}

func TestAllHonorsLimit(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	for i := 0; i < 5; i++ {
		if _, err := s.Add("entry", "entry"); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if got := len(s.All(3)); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if got := len(s.All(100)); got != 5 {
		t.Fatalf("expected 5 entries, got %d", got)
	}
}

func TestDeleteByID(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	keep, _ := s.Add("keep", "keep")
	drop, _ := s.Add("drop", "drop")

	removed, err := s.Delete(drop.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !removed {
		t.Fatal("expected delete to report removal")
	}

	entries := s.All(0)
	if len(entries) != 1 || entries[0].ID != keep.ID {
		t.Fatalf("unexpected entries after delete: %+v", entries)
	}

	removed, err = s.Delete("no-such-id")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if removed {
		t.Fatal("expected no removal for unknown id")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	s.Add("one", "one")
	s.Add("two", "two")

	if err := s.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if got := len(s.All(0)); got != 0 {
		t.Fatalf("expected empty history, got %d entries", got)
	}
}

func TestEntriesSurviveReopen(t *testing.T) {
	t.Parallel()

	s, path := openTemp(t)
	added, err := s.Add("persisted", "persisted raw")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	entries := reopened.All(0)
	if len(entries) != 1 || entries[0].ID != added.ID || entries[0].Text != "persisted" {
		t.Fatalf("unexpected entries after reopen: %+v", entries)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if got := len(s.All(0)); got != 0 {
		t.Fatalf("expected empty history from corrupt file, got %d entries", got)
	}
}
