package server

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/flo-redis/gokv-resp/internal/resp"
)

// pollTimeoutMS bounds how long epoll_wait blocks before the loop re-checks
// blocking-registry deadlines and runs its opportunistic expiry sweep. A
// listener-only wakeup would otherwise starve those housekeeping tasks
// under light traffic.
const pollTimeoutMS = 100

// tickExpiryBudget bounds how many string-store keys the per-iteration
// housekeeping pass inspects, so one iteration can't stall on a huge
// expiry table.
const tickExpiryBudget = 20

const readChunk = 4096

// EventLoop is the single-threaded, non-blocking, readiness-driven I/O
// loop: one epoll instance, one listening socket, every connection in
// non-blocking mode, everything else run from this one goroutine so the
// stores never need locking. Replaces a goroutine-per-connection accept
// loop with readiness polling so the rest of the server can stay
// lock-free.
type EventLoop struct {
	srv      *Server
	epfd     int
	listenFD int
}

func NewEventLoop(srv *Server) *EventLoop {
	l := &EventLoop{srv: srv}
	srv.flushConn = l.flushFD
	return l
}

// flushFD flushes fd's pending output immediately, for replies queued
// outside the read/write readiness path that triggered this iteration.
func (l *EventLoop) flushFD(fd int) {
	conn, ok := l.srv.conns[fd]
	if !ok {
		return
	}
	l.flush(conn)
}

// Run binds the listening socket, opens the epoll instance, and blocks
// running the event loop until ctx-equivalent stop is requested via Close
// from another OS signal handler goroutine, or an unrecoverable syscall
// error occurs.
func (l *EventLoop) Run() error {
	if err := l.listen(); err != nil {
		return err
	}
	defer unix.Close(l.listenFD)

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	l.epfd = epfd
	defer unix.Close(epfd)

	if err := l.epollAdd(l.listenFD, unix.EPOLLIN); err != nil {
		return fmt.Errorf("epoll_ctl(listener): %w", err)
	}

	l.srv.Log.Info("event loop listening",
		zap.Uint16("port", l.srv.Cfg.Port))

	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(l.epfd, events, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch {
			case fd == l.listenFD:
				l.acceptAll()
			case events[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0:
				l.closeConn(fd)
			default:
				if events[i].Events&unix.EPOLLIN != 0 {
					l.readable(fd)
				}
				if events[i].Events&unix.EPOLLOUT != 0 {
					l.writable(fd)
				}
			}
		}

		l.tick()
	}
}

func (l *EventLoop) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: int(l.srv.Cfg.Port)}
	if err := unix.Bind(fd, addr); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.listenFD = fd
	return nil
}

func (l *EventLoop) epollAdd(fd int, events uint32) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (l *EventLoop) epollMod(fd int, events uint32) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// acceptAll drains every pending connection in one readiness notification,
// since edge-style bursts on the listening socket are common under load.
func (l *EventLoop) acceptAll() {
	for {
		fd, _, err := unix.Accept4(l.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			l.srv.Log.Warn("accept failed", zap.Error(err))
			return
		}
		id := uuid.NewString()
		conn := newConnection(fd, id, l.srv.Log.With(zap.String("conn", id)))
		l.srv.conns[fd] = conn
		if err := l.epollAdd(fd, unix.EPOLLIN); err != nil {
			l.srv.Log.Warn("epoll_ctl add failed", zap.Error(err), zap.String("conn", id))
			l.closeConn(fd)
			continue
		}
		l.srv.Log.Debug("accepted connection", zap.String("conn", id), zap.Int("fd", fd))
	}
}

// readable handles one ready-for-read connection: read what's available,
// decode as many complete commands as the buffer holds, dispatch each, and
// accumulate replies before a single write attempt.
func (l *EventLoop) readable(fd int) {
	conn, ok := l.srv.conns[fd]
	if !ok {
		return
	}

	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			conn.ReadBuf = append(conn.ReadBuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			l.closeConn(fd)
			return
		}
		if n == 0 {
			l.closeConn(fd)
			return
		}
		if n < len(buf) {
			break
		}
	}

	l.processBuffered(conn)
	l.flush(conn)
}

// processBuffered decodes and dispatches every complete command currently
// sitting in conn.ReadBuf, stopping (without discarding the remainder) on
// the first incomplete command, per resp.Decode's contract. A connection
// that becomes Blocked mid-buffer stops processing further commands until
// it is woken: a connection is never both queuing and blocked, and never
// runs a second command while blocked.
func (l *EventLoop) processBuffered(conn *Connection) {
	for conn.State != StateBlocked {
		tokens, consumed, err := resp.Decode(conn.ReadBuf)
		if err == resp.ErrIncomplete {
			return
		}
		if err != nil {
			var e resp.Encoder
			e.WriteError(err.Error())
			conn.queueWrite(e.Bytes())
			conn.closeAfterWrite = true
			conn.ReadBuf = conn.ReadBuf[:0]
			return
		}

		conn.ReadBuf = conn.ReadBuf[consumed:]

		if len(tokens) == 0 {
			continue
		}
		owned := make([][]byte, len(tokens))
		for i, t := range tokens {
			owned[i] = append([]byte(nil), t...)
		}

		reply, blocked := l.srv.dispatch(conn, owned)
		if blocked {
			continue
		}
		conn.queueWrite(reply)
	}
}

func (l *EventLoop) writable(fd int) {
	conn, ok := l.srv.conns[fd]
	if !ok {
		return
	}
	l.flush(conn)
}

// flush writes as much of conn.WriteBuf as the socket currently accepts,
// arming or disarming EPOLLOUT interest depending on whether data remains.
func (l *EventLoop) flush(conn *Connection) {
	for len(conn.WriteBuf) > 0 {
		n, err := unix.Write(conn.FD, conn.WriteBuf)
		if n > 0 {
			conn.WriteBuf = conn.WriteBuf[n:]
		}
		if err != nil {
			if err == unix.EAGAIN {
				l.epollMod(conn.FD, unix.EPOLLIN|unix.EPOLLOUT)
				return
			}
			l.closeConn(conn.FD)
			return
		}
		if n == 0 {
			break
		}
	}

	if len(conn.WriteBuf) == 0 {
		if conn.closeAfterWrite {
			l.closeConn(conn.FD)
			return
		}
		l.epollMod(conn.FD, unix.EPOLLIN)
	}
}

// tick runs once per loop iteration: wake any blocking-registry waiter past
// its deadline with a null bulk reply, and give the string store a bounded
// chance to purge expired keys proactively.
func (l *EventLoop) tick() {
	now := l.srv.nowMS()
	for _, fd := range l.srv.blocking.Expired(now) {
		l.srv.blocking.Deregister(fd)
		conn, ok := l.srv.conns[fd]
		if !ok {
			continue
		}
		conn.State = StateNormal
		conn.Waiter = nil
		var e resp.Encoder
		e.WriteNullBulk()
		conn.queueWrite(e.Bytes())
		l.flush(conn)
	}
	l.srv.strings.Tick(tickExpiryBudget)
}

func (l *EventLoop) closeConn(fd int) {
	conn, ok := l.srv.conns[fd]
	if ok {
		l.srv.blocking.Deregister(fd)
		l.srv.Log.Debug("closing connection", zap.String("conn", conn.ID))
	}
	delete(l.srv.conns, fd)
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
}

// Close releases the listening socket and epoll instance, for a clean
// shutdown on SIGINT/SIGTERM.
func (l *EventLoop) Close() {
	if l.epfd != 0 {
		unix.Close(l.epfd)
	}
	if l.listenFD != 0 {
		unix.Close(l.listenFD)
	}
}
