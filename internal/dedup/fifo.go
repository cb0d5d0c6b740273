package dedup

// fifoSet is an insertion-ordered set with a hard capacity. Not safe for
// concurrent use; stores guard it with their own mutex.
type fifoSet struct {
	cap   int
	order []string
	index map[string]struct{}
}

func newFIFOSet(capacity int) *fifoSet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &fifoSet{cap: capacity, index: make(map[string]struct{}, capacity)}
}

func (s *fifoSet) contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// add inserts id and returns the evicted IDs. It reports false when id was
// already present, in which case nothing changes.
func (s *fifoSet) add(id string) (evicted []string, added bool) {
	if s.contains(id) {
		return nil, false
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	if over := len(s.order) - s.cap; over > 0 {
		evicted = append(evicted, s.order[:over]...)
		for _, old := range evicted {
			delete(s.index, old)
		}
		s.order = append([]string(nil), s.order[over:]...)
	}
	return evicted, true
}

// load replaces the contents with ids (oldest first), keeping only the
// newest cap entries and dropping blanks and repeats.
func (s *fifoSet) load(ids []string) {
	s.order = s.order[:0]
	s.index = make(map[string]struct{}, s.cap)
	for _, id := range ids {
		if id == "" {
			continue
		}
		s.add(id)
	}
}

func (s *fifoSet) snapshot() []string {
	return append([]string(nil), s.order...)
}

func (s *fifoSet) len() int { return len(s.order) }
