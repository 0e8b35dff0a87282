package service

import (
	"sync"

	"github.com/hermesindex/hermes/domain/catalog"
)

// inflightSet tracks rows handed to workers but not yet committed, so the
// producer never double-dispatches a row the pending scan still returns.
type inflightSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[string]bool)}
}

// claim marks the rows not already in flight and returns them.
func (s *inflightSet) claim(rows []catalog.Row) []catalog.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make([]catalog.Row, 0, len(rows))
	for _, row := range rows {
		if s.ids[row.PGID] {
			continue
		}
		s.ids[row.PGID] = true
		fresh = append(fresh, row)
	}
	return fresh
}

// release drops the rows from the set once their batch settled.
func (s *inflightSet) release(rows []catalog.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		delete(s.ids, row.PGID)
	}
}
