package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"notifywatch/pkg/jsonfile"
)

// ErrIndex is returned for an out-of-range rule position.
var ErrIndex = errors.New("rule index out of range")

// Store is the ordered rule list, kept in memory and mirrored to disk after
// every change.
type Store struct {
	path    string
	log     *slog.Logger
	mu      sync.RWMutex
	version int
	rules   []Rule
}

// NewStore creates an empty store backed by path. Call Reload to read it.
func NewStore(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		path:    path,
		log:     log,
		version: SchemaVersion,
		rules:   []Rule{},
	}
}

// Reload replaces the in-memory list with the file contents. A missing file
// is an empty list; an unreadable one is also treated as empty and the
// reason is returned so the caller can report it. The next write repairs it.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := jsonfile.Read(s.path)
	if err != nil {
		s.version, s.rules = SchemaVersion, []Rule{}
		if jsonfile.IsMissing(err) {
			return nil
		}
		return fmt.Errorf("read rules: %w", err)
	}

	version, rules, err := Decode(data, s.log)
	if err != nil {
		s.version, s.rules = SchemaVersion, []Rule{}
		return fmt.Errorf("decode rules: %w", err)
	}
	s.version, s.rules = version, rules
	s.log.Info("loaded rules", "count", len(rules), "version", version)
	return nil
}

// Snapshot returns the schema version of the loaded file and a copy of the list.
func (s *Store) Snapshot() (int, []Rule) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, s.copyLocked()
}

// List returns a copy of the rules in evaluation order.
func (s *Store) List() []Rule {
	_, rules := s.Snapshot()
	return rules
}

// Append adds a rule at the end of the list, persists it and returns its
// position.
func (s *Store) Append(rule Rule) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(s.copyLocked(), rule)
	if err := s.commitLocked(next); err != nil {
		return -1, err
	}
	return len(next) - 1, nil
}

// Replace swaps the rule at index i.
func (s *Store) Replace(i int, rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.rules) {
		return ErrIndex
	}
	next := s.copyLocked()
	next[i] = rule
	return s.commitLocked(next)
}

// Remove deletes the rule at index i and returns it.
func (s *Store) Remove(i int) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.rules) {
		return Rule{}, ErrIndex
	}
	removed := s.rules[i]
	next := make([]Rule, 0, len(s.rules)-1)
	next = append(next, s.rules[:i]...)
	next = append(next, s.rules[i+1:]...)
	if err := s.commitLocked(next); err != nil {
		return Rule{}, err
	}
	return removed, nil
}

// commitLocked writes next to disk and only then makes it the live list.
func (s *Store) commitLocked(next []Rule) error {
	if err := jsonfile.Write(s.path, Encode(next)); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	s.version, s.rules = SchemaVersion, next
	return nil
}

func (s *Store) copyLocked() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}
