package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type record struct {
	Microphone Decision  `json:"microphone"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store persists the microphone decision as a small JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns DecisionUndetermined when nothing has been stored yet.
func (s *Store) Load() (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DecisionUndetermined, nil
	}
	if err != nil {
		return "", err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("parse %s: %w", s.path, err)
	}
	if decision, ok := ParseDecision(string(rec.Microphone)); ok {
		return decision, nil
	}
	return DecisionUndetermined, nil
}

func (s *Store) Save(decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record{Microphone: decision, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
