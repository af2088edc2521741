package session

import "container/list"

// maxStoppedIDs bounds how many stopped session ids the manager remembers.
// Ids are random per session, so only recent ones are ever seen again.
const maxStoppedIDs = 1024

// stoppedSet remembers recently stopped session ids, oldest evicted first.
type stoppedSet struct {
	limit int
	order *list.List
	index map[string]*list.Element
}

func newStoppedSet(limit int) *stoppedSet {
	return &stoppedSet{limit: limit, order: list.New(), index: make(map[string]*list.Element)}
}

// add records id and reports whether it was new.
func (s *stoppedSet) add(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = s.order.PushBack(id)
	for s.order.Len() > s.limit {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return true
}

func (s *stoppedSet) remove(id string) {
	if e, ok := s.index[id]; ok {
		s.order.Remove(e)
		delete(s.index, id)
	}
}

func (s *stoppedSet) len() int {
	return s.order.Len()
}
