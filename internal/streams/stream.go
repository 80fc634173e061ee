package streams

// Stream is an append-only, strictly-increasing-id log of entries for one
// stream key. The zero value is an empty stream ready to use.
type Stream struct {
	root   rxNode
	LastID EntryID
	Len    int
}

func (s *Stream) Empty() bool { return s.Len == 0 }

// Put appends an entry. Callers must have already validated id (greater
// than the tail, not 0-0); Put itself does not re-check those invariants.
func (s *Stream) Put(id EntryID, fields []FieldValue) {
	node := s.root.create(id.internalKey())
	node.entry = &Entry{ID: id, Fields: fields}
	s.LastID = id
	s.Len++
}

// Range returns entries with an id in [from, to], ascending.
func (s *Stream) Range(from, to EntryID) []Entry {
	if s.Len == 0 || from.Greater(to) {
		return nil
	}
	return s.root.rangeEntries(from.internalKey(), to.internalKey())
}

// After returns entries with an id strictly greater than since, ascending.
func (s *Stream) After(since EntryID) []Entry {
	if s.Len == 0 {
		return nil
	}
	lo, overflow := since.Next()
	if overflow {
		return nil
	}
	return s.root.rangeEntries(lo.internalKey(), MaxID.internalKey())
}
