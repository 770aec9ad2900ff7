// Package state persists client-local settings between runs: the auth token,
// the last selected bot and the chat auto-save toggle.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// State is the persisted document.
type State struct {
	Token     string `yaml:"token,omitempty"`
	Email     string `yaml:"email,omitempty"`
	LastBotID int    `yaml:"last_bot_id,omitempty"`
	// AutoSave is nil until the user changes it; use Store.AutoSave for the effective value.
	AutoSave *bool `yaml:"auto_save,omitempty"`
}

// Store reads and writes State at a fixed path.
type Store struct {
	path string

	mu    sync.Mutex
	state State
}

// Open loads the state file. A missing file yields empty state.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AutoSave reports whether chat conversations are persisted. Defaults to true.
func (s *Store) AutoSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.AutoSave == nil {
		return true
	}
	return *s.state.AutoSave
}

// Update applies fn to the state and writes the result.
func (s *Store) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	fn(&next)
	if err := s.write(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// SetToken stores the auth token and the account it belongs to.
func (s *Store) SetToken(token, email string) error {
	return s.Update(func(st *State) {
		st.Token = token
		st.Email = email
	})
}

// ClearToken forgets the auth token.
func (s *Store) ClearToken() error {
	return s.SetToken("", "")
}

// SetLastBot remembers the selected bot.
func (s *Store) SetLastBot(botID int) error {
	return s.Update(func(st *State) { st.LastBotID = botID })
}

// SetAutoSave stores the auto-save toggle.
func (s *Store) SetAutoSave(on bool) error {
	return s.Update(func(st *State) { st.AutoSave = &on })
}

// write replaces the file atomically. Caller must hold mu.
func (s *Store) write(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
