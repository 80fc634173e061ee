package server

import "go.uber.org/zap"

// ConnState is a connection's tagged variant: Normal, Queuing (a MULTI in
// progress) or Blocked (an XREAD BLOCK awaiting data). At most one of
// Txn/Waiter is non-nil at a time.
type ConnState int

const (
	StateNormal ConnState = iota
	StateQueuing
	StateBlocked
)

// Connection is the per-socket state owned exclusively by the event loop
// except while a command for it is being dispatched.
type Connection struct {
	ID  string // uuid, used only for log correlation
	FD  int
	Log *zap.Logger

	ReadBuf  []byte
	WriteBuf []byte

	State  ConnState
	Txn    *TxnState
	Waiter *Waiter

	// closeAfterWrite is set when a protocol error requires closing the
	// connection once its error reply has been flushed.
	closeAfterWrite bool
}

func newConnection(fd int, id string, log *zap.Logger) *Connection {
	return &Connection{
		ID:    id,
		FD:    fd,
		Log:   log,
		State: StateNormal,
	}
}

func (c *Connection) queueWrite(b []byte) {
	c.WriteBuf = append(c.WriteBuf, b...)
}
