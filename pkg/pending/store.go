// Package pending holds the single rule proposed by the capture extension
// while it waits for the operator to accept or discard it.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"notifywatch/pkg/jsonfile"
	"notifywatch/pkg/rules"
)

// StatusPending is the only status a stored proposal carries.
const StatusPending = "pending"

var (
	// ErrNoPending is returned by Take when the slot is empty.
	ErrNoPending = errors.New("no pending rule")
	// ErrPendingChanged is returned by Take when the proposal was replaced
	// after the caller looked at it.
	ErrPendingChanged = errors.New("pending rule changed")
)

// PendingRule is a sanitized rule plus the handoff bookkeeping.
type PendingRule struct {
	rules.Rule
	Status    string          `json:"status"`
	ID        string          `json:"id"`
	CreatedAt rules.Timestamp `json:"created_at"`
}

// Store is a last-write-wins slot: a new proposal silently replaces the old.
type Store struct {
	path    string
	log     *slog.Logger
	mu      sync.RWMutex
	current *PendingRule
}

// NewStore creates an empty slot backed by path. Call Reload to read it.
func NewStore(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: path, log: log}
}

// Propose stores rule as the pending proposal and returns the stamped record.
func (s *Store) Propose(rule rules.Rule) (PendingRule, error) {
	p := PendingRule{
		Rule:      rule,
		Status:    StatusPending,
		ID:        uuid.NewString(),
		CreatedAt: rule.CapturedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(&p); err != nil {
		return PendingRule{}, err
	}
	if s.current != nil {
		s.log.Info("pending rule replaced", "old_id", s.current.ID, "new_id", p.ID)
	}
	s.current = &p
	s.log.Info("pending rule received", "id", p.ID, "summary", p.Summary())
	return p, nil
}

// Peek returns the current proposal without consuming it.
func (s *Store) Peek() (PendingRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return PendingRule{}, false
	}
	return *s.current, true
}

// Clear empties the slot. Clearing an empty slot is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	if err := s.saveLocked(nil); err != nil {
		return err
	}
	s.log.Info("pending rule discarded", "id", s.current.ID)
	s.current = nil
	return nil
}

// Take removes and returns the proposal. A non-empty id must match the
// proposal currently stored.
func (s *Store) Take(id string) (PendingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return PendingRule{}, ErrNoPending
	}
	if id != "" && id != s.current.ID {
		return PendingRule{}, fmt.Errorf("%w: have %s, caller saw %s", ErrPendingChanged, s.current.ID, id)
	}
	if err := s.saveLocked(nil); err != nil {
		return PendingRule{}, err
	}
	p := *s.current
	s.current = nil
	return p, nil
}

// Restore puts back a proposal returned by Take whose commit failed. It
// reports false and leaves the slot alone when a newer proposal arrived in
// the meantime.
func (s *Store) Restore(p PendingRule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return false, nil
	}
	if err := s.saveLocked(&p); err != nil {
		return false, err
	}
	s.current = &p
	s.log.Info("pending rule restored", "id", p.ID)
	return true, nil
}

// Reload replaces the slot with the file contents. A missing file or {} is
// empty. A proposal that fails rule validation is dropped and the reason
// returned.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := jsonfile.Read(s.path)
	if err != nil {
		s.current = nil
		if jsonfile.IsMissing(err) {
			return nil
		}
		return fmt.Errorf("read pending rule: %w", err)
	}

	p, err := decode(data)
	if err != nil {
		s.current = nil
		return err
	}
	s.current = p
	if p != nil {
		s.log.Info("loaded pending rule", "id", p.ID)
	}
	return nil
}

func decode(data []byte) (*PendingRule, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse pending rule: invalid json")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("parse pending rule: not an object")
	}
	if len(doc.Map()) == 0 {
		return nil, nil
	}

	var p PendingRule
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pending rule: %w", err)
	}
	rule, err := rules.Normalize(p.Rule)
	if err != nil {
		return nil, fmt.Errorf("parse pending rule: %w", err)
	}
	p.Rule = rule
	p.Status = StatusPending
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.CapturedAt
	}
	return &p, nil
}

func (s *Store) saveLocked(p *PendingRule) error {
	var v any = struct{}{}
	if p != nil {
		v = p
	}
	if err := jsonfile.Write(s.path, v); err != nil {
		return fmt.Errorf("save pending rule: %w", err)
	}
	return nil
}
