package feed

import "time"

// seenSet remembers the changes already emitted to one subscriber. Entries
// live until their updatedAt falls at or below the lower bound of the poll
// query, after which the query can no longer return them.
type seenSet struct {
	keys map[string]time.Time
}

// newSeenSet creates a set sized for hint entries. The set grows past hint
// when a single poll window holds more changes.
func newSeenSet(hint int) *seenSet {
	if hint <= 0 {
		hint = 1
	}
	return &seenSet{keys: make(map[string]time.Time, hint)}
}

// add records key written at at and reports whether it was new.
func (s *seenSet) add(key string, at time.Time) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = at
	return true
}

// prune forgets every key written at or before since.
func (s *seenSet) prune(since time.Time) {
	for k, at := range s.keys {
		if !at.After(since) {
			delete(s.keys, k)
		}
	}
}

func (s *seenSet) len() int { return len(s.keys) }
