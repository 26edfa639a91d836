package rules

import (
	"log"
	"sync/atomic"
)

// Store publishes the current RuleSet. Readers take a snapshot with Current
// and keep using it for the whole batch, so a reload never changes the rules
// under an in-flight classification.
type Store struct {
	path    string
	current atomic.Pointer[RuleSet]
}

func NewStore(rs *RuleSet) *Store {
	s := &Store{}
	s.current.Store(rs)
	return s
}

// Open loads path and remembers it for Reload.
func Open(path string) (*Store, error) {
	rs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s := NewStore(rs)
	s.path = path
	return s, nil
}

func (s *Store) Current() *RuleSet { return s.current.Load() }

func (s *Store) Replace(rs *RuleSet) { s.current.Store(rs) }

// Reload re-reads the backing file. On error the previous rules stay live.
func (s *Store) Reload() (*RuleSet, error) {
	if s.path == "" {
		return s.Current(), nil
	}
	rs, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	prev := s.Current()
	s.Replace(rs)
	log.Printf("[Rules] reloaded %s: %s -> %s", s.path, prev.Version, rs.Version)
	return rs, nil
}
