// Package settings persists client state that must survive restarts:
// the identity token, the target address, and provider selections.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"patter/internal/domain"
)

// Store owns the settings file. Reads are served from memory; every Update
// is written through to disk.
type Store struct {
	path string

	mu      sync.RWMutex
	current domain.Settings
}

// Open loads the settings file, falling back to defaults when it does not
// exist or cannot be parsed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	s := &Store{path: path, current: domain.DefaultSettings()}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var loaded domain.Settings
	if err := json.Unmarshal(raw, &loaded); err != nil {
		// A corrupt file should not brick the client.
		return s, nil
	}
	if loaded.STTProvider.Mode == "" {
		loaded.STTProvider = domain.AutoProvider()
	}
	if loaded.LLMProvider.Mode == "" {
		loaded.LLMProvider = domain.AutoProvider()
	}
	if loaded.STTTimeoutSeconds <= 0 {
		loaded.STTTimeoutSeconds = domain.DefaultSTTTimeoutSeconds
	}
	if loaded.LLMFormattingEnabled == nil {
		enabled := true
		loaded.LLMFormattingEnabled = &enabled
	}
	s.current = loaded
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies mutate to the settings and writes the result to disk.
func (s *Store) Update(mutate func(*domain.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	mutate(&next)

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize settings: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	s.current = next
	return nil
}
