package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists user settings as a JSON file. Reads fall back to the
// hardcoded defaults when the file is missing or unreadable.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted settings map, or the defaults when the file is
// absent or malformed.
func (s *Store) Load() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() map[string]interface{} {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return DefaultMap()
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return DefaultMap()
	}
	return m
}

// Save writes the full settings map to disk.
func (s *Store) Save(m map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(m)
}

func (s *Store) saveLocked(m map[string]interface{}) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Update deep-merges the partial map into the persisted settings and saves
// the result, returning the updated full map.
func (s *Store) Update(partial map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.loadLocked()
	updated := DeepMerge(current, partial)
	if err := s.saveLocked(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateSection replaces one top-level section with the shallow merge of the
// existing section and the partial, matching the per-section API semantics.
func (s *Store) UpdateSection(section string, partial map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.loadLocked()
	sec, _ := current[section].(map[string]interface{})
	merged := make(map[string]interface{}, len(sec)+len(partial))
	for k, v := range sec {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	current[section] = merged
	if err := s.saveLocked(current); err != nil {
		return nil, err
	}
	return merged, nil
}

// Reset writes the defaults back to disk.
func (s *Store) Reset() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defaults := DefaultMap()
	if err := s.saveLocked(defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}
