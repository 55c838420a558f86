package rules

import "sync/atomic"

// Store holds the current catalog. Readers take a snapshot with Current and
// use it for the whole operation; Replace swaps in a new rule set without a
// restart.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore returns a store serving c.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	s.current.Store(c)
	return s
}

// Current returns the catalog in effect.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Replace installs c and returns the catalog it replaced.
func (s *Store) Replace(c *Catalog) *Catalog {
	return s.current.Swap(c)
}
