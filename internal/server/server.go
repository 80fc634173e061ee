package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/flo-redis/gokv-resp/internal/store"
	"github.com/flo-redis/gokv-resp/internal/streams"
)

// Server owns every piece of shared state: the string store, the stream
// store, the blocking registry, and the connection table. All of it is
// mutated only from the event loop goroutine, so none of it needs a lock.
type Server struct {
	Log *zap.Logger
	Cfg Config

	strings *store.StringStore
	streams map[string]*streams.Stream

	blocking *BlockingRegistry

	startedAt time.Time

	conns map[int]*Connection

	// flushConn, when wired up by the event loop, pushes a connection's
	// pending output immediately. Needed for replies queued outside the
	// normal read/write readiness path, e.g. waking a blocked XREAD from
	// another connection's XADD: the woken fd is armed for EPOLLIN only and
	// won't see a write-readiness event on its own.
	flushConn func(fd int)
}

func New(cfg Config, log *zap.Logger) *Server {
	s := &Server{
		Log:       log,
		Cfg:       cfg,
		streams:   make(map[string]*streams.Stream),
		blocking:  newBlockingRegistry(),
		startedAt: time.Now(),
		conns:     make(map[int]*Connection),
	}
	s.strings = store.New(s.nowMS)
	return s
}

// nowMS is the monotonic millisecond clock deadlines are measured against:
// time elapsed since process start, immune to wall-clock adjustments. Only
// the snapshot loader ever touches wall-clock time, to convert an on-disk
// expiration into a deadline on this clock.
func (s *Server) nowMS() int64 {
	return time.Since(s.startedAt).Milliseconds()
}

// typeOf reports which store, if any, currently owns key: "string",
// "stream", or "none". The two stores share one logical keyspace even
// though they're separate maps, since TYPE treats them as one namespace.
func (s *Server) typeOf(key []byte) string {
	if s.strings.Contains(key) {
		return "string"
	}
	if _, ok := s.streams[string(key)]; ok {
		return "stream"
	}
	return "none"
}

func (s *Server) getStream(name string) (*streams.Stream, bool) {
	st, ok := s.streams[name]
	return st, ok
}

func (s *Server) getOrCreateStream(name string) *streams.Stream {
	st, ok := s.streams[name]
	if !ok {
		st = &streams.Stream{}
		s.streams[name] = st
	}
	return st
}
