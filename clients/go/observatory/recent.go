package observatory

import (
	"container/list"
	"sync"
)

// DefaultRecentSize bounds a RecentSet created with a non-positive size.
const DefaultRecentSize = 500

// RecentSet remembers the most recent N ids. Adding past capacity evicts
// the oldest id first. It is safe for concurrent use.
type RecentSet struct {
	mu    sync.Mutex
	size  int
	order *list.List
	index map[string]*list.Element
}

// NewRecentSet creates a set holding at most size ids.
func NewRecentSet(size int) *RecentSet {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &RecentSet{
		size:  size,
		order: list.New(),
		index: make(map[string]*list.Element, size),
	}
}

// Add records id and reports whether it was new. A repeated id keeps its
// original position.
func (s *RecentSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = s.order.PushBack(id)
	for s.order.Len() > s.size {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return true
}

// Contains reports whether id is in the set.
func (s *RecentSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Len returns the number of ids held.
func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
