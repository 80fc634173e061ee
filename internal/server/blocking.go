package server

import "github.com/flo-redis/gokv-resp/internal/streams"

// noDeadline marks a BLOCK 0 waiter: wait forever until an append matches.
const noDeadline int64 = -1

// Watch is one (stream, since-id) pair a waiter is watching, as recorded at
// XREAD receipt time.
type Watch struct {
	Stream string
	Since  streams.EntryID
}

// Waiter is a connection suspended in XREAD BLOCK, co-indexed by connection
// fd and by every stream name it watches.
type Waiter struct {
	ConnFD   int
	Deadline int64 // monotonic ms, or noDeadline
	Watches  []Watch
}

// BlockingRegistry is the set of connections waiting on stream data, indexed
// both by connection (for disconnect/timeout) and by stream name (for O(1+k)
// wakeup on append).
type BlockingRegistry struct {
	byConn   map[int]*Waiter
	byStream map[string]map[int]bool
}

func newBlockingRegistry() *BlockingRegistry {
	return &BlockingRegistry{
		byConn:   make(map[int]*Waiter),
		byStream: make(map[string]map[int]bool),
	}
}

// Register inserts w into both indices.
func (r *BlockingRegistry) Register(w *Waiter) {
	r.byConn[w.ConnFD] = w
	for _, watch := range w.Watches {
		set, ok := r.byStream[watch.Stream]
		if !ok {
			set = make(map[int]bool)
			r.byStream[watch.Stream] = set
		}
		set[w.ConnFD] = true
	}
}

// Deregister removes any waiter for connFD from both indices. Safe to call
// when no waiter is registered.
func (r *BlockingRegistry) Deregister(connFD int) {
	w, ok := r.byConn[connFD]
	if !ok {
		return
	}
	delete(r.byConn, connFD)
	for _, watch := range w.Watches {
		set := r.byStream[watch.Stream]
		delete(set, connFD)
		if len(set) == 0 {
			delete(r.byStream, watch.Stream)
		}
	}
}

// WaitersOn returns the fds of connections registered against streamName, a
// snapshot safe to range over while the caller mutates the registry.
func (r *BlockingRegistry) WaitersOn(streamName string) []int {
	set := r.byStream[streamName]
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for fd := range set {
		out = append(out, fd)
	}
	return out
}

// Waiter returns the waiter registered for connFD, if any.
func (r *BlockingRegistry) Waiter(connFD int) (*Waiter, bool) {
	w, ok := r.byConn[connFD]
	return w, ok
}

// Expired returns the fds of every waiter whose deadline has passed.
func (r *BlockingRegistry) Expired(nowMS int64) []int {
	var out []int
	for fd, w := range r.byConn {
		if w.Deadline != noDeadline && w.Deadline <= nowMS {
			out = append(out, fd)
		}
	}
	return out
}
