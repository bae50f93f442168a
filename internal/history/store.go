// Package history persists finished dictations so users can recover text
// they already dismissed. Entries are held newest-first and capped.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"patter/internal/domain"
)

// MaxEntries bounds the history file; the oldest entries fall off.
const MaxEntries = 500

// Store owns the history file. Reads are served from memory; every mutation
// is written through to disk.
type Store struct {
	path string

	mu      sync.RWMutex
	entries []domain.HistoryEntry
}

// Open loads the history file, starting empty when it does not exist or
// cannot be parsed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var loaded []domain.HistoryEntry
	if err := json.Unmarshal(raw, &loaded); err != nil {
		// A corrupt file should not brick the client.
		return s, nil
	}
	if len(loaded) > MaxEntries {
		loaded = loaded[:MaxEntries]
	}
	s.entries = loaded
	return s, nil
}

// Add prepends a new entry and persists the result.
func (s *Store) Add(text, rawText string) (domain.HistoryEntry, error) {
	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Text:      text,
		RawText:   rawText,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.HistoryEntry, 0, len(s.entries)+1)
	next = append(next, entry)
	next = append(next, s.entries...)
	if len(next) > MaxEntries {
		next = next[:MaxEntries]
	}
	if err := s.save(next); err != nil {
		return domain.HistoryEntry{}, err
	}
	s.entries = next
	return entry, nil
}

// All returns up to limit entries, newest first. A non-positive limit means
// all entries.
func (s *Store) All(limit int) []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.HistoryEntry, n)
	copy(out, s.entries[:n])
	return out
}

// Delete removes the entry with the given id. It reports whether anything
// was removed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range s.entries {
		if entry.ID != id {
			continue
		}
		next := make([]domain.HistoryEntry, 0, len(s.entries)-1)
		next = append(next, s.entries[:i]...)
		next = append(next, s.entries[i+1:]...)
		if err := s.save(next); err != nil {
			return false, err
		}
		s.entries = next
		return true, nil
	}
	return false, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save([]domain.HistoryEntry{}); err != nil {
		return err
	}
	s.entries = nil
	return nil
}

func (s *Store) save(entries []domain.HistoryEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize history: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}
