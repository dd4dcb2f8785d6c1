// Package approval persists which shell commands the user has already
// cleared for unattended execution, and mediates interactive
// confirmation for everything else.
package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is one approved command or glob pattern
type Entry struct {
	Command string `json:"command,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Reason  string `json:"reason,omitempty"`
	AddedAt string `json:"added_at"`
}

// Store is a JSON-file-backed allowlist of pre-approved commands
type Store struct {
	filePath string
	entries  []Entry
	mu       sync.RWMutex
}

// NewStore creates a store backed by filePath. An empty path defaults
// to ~/.lira/exec-approvals.json. A missing file is not an error; it is
// created on the first save.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, ".lira", "exec-approvals.json")
	}

	s := &Store{
		filePath: filePath,
		entries:  []Entry{},
	}

	if err := s.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		log.Debug().Str("path", filePath).Msg("Allowlist file does not exist, will create on first save")
	}

	return s, nil
}

// Load reads the allowlist from disk
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse allowlist: %w", err)
	}

	s.entries = entries

	log.Debug().
		Str("path", s.filePath).
		Int("count", len(entries)).
		Msg("Allowlist loaded")

	return nil
}

// Save writes the allowlist to disk
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal allowlist: %w", err)
	}

	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write allowlist: %w", err)
	}

	return nil
}

// IsPreApproved reports whether a command matches a stored entry,
// either exactly or via glob pattern
func (s *Store) IsPreApproved(command string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	command = strings.TrimSpace(command)

	for _, entry := range s.entries {
		if entry.Command != "" && entry.Command == command {
			return true
		}
		if entry.Pattern != "" && matchGlob(entry.Pattern, command) {
			return true
		}
	}

	return false
}

// RecordApproval remembers a command as approved and persists the list
func (s *Store) RecordApproval(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	s.mu.Lock()
	for _, existing := range s.entries {
		if existing.Command == command {
			s.mu.Unlock()
			return nil
		}
	}
	s.entries = append(s.entries, Entry{
		Command: command,
		AddedAt: time.Now().UTC().Format(time.RFC3339),
	})
	s.mu.Unlock()

	log.Info().Str("command", command).Msg("Command added to allowlist")

	return s.Save()
}

// AddPattern stores a glob pattern that pre-approves matching commands
func (s *Store) AddPattern(pattern, reason string) error {
	if pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}

	s.mu.Lock()
	for _, existing := range s.entries {
		if existing.Pattern == pattern {
			s.mu.Unlock()
			return nil
		}
	}
	s.entries = append(s.entries, Entry{
		Pattern: pattern,
		Reason:  reason,
		AddedAt: time.Now().UTC().Format(time.RFC3339),
	})
	s.mu.Unlock()

	return s.Save()
}

// Remove deletes an exact command entry
func (s *Store) Remove(command string) error {
	s.mu.Lock()

	found := false
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.Command == command {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("entry not found in allowlist")
	}

	return s.Save()
}

// List returns a copy of all entries
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return entries
}

// Count returns the number of stored entries
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func matchGlob(pattern, str string) bool {
	if pattern == "*" {
		return true
	}

	matched, err := filepath.Match(pattern, str)
	if err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("Invalid glob pattern")
		return false
	}
	return matched
}
