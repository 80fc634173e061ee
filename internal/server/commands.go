package server

import (
	"strconv"
	"strings"

	"github.com/flo-redis/gokv-resp/internal/resp"
	"github.com/flo-redis/gokv-resp/internal/streams"
)

// execCtx bundles what a handler needs: the server (to mutate stores), the
// connection (for blocking registration), and whether this command is
// running as part of an EXEC. XREAD consults inTxn to honor the resolved
// open question: XREAD never blocks inside MULTI.
type execCtx struct {
	srv   *Server
	conn  *Connection
	inTxn bool
}

// handlerFunc executes one already-dispatched command and returns its
// encoded reply, or blocked=true if it registered a BlockingWaiter instead
// of replying immediately.
type handlerFunc func(ctx *execCtx, tokens [][]byte) (reply []byte, blocked bool)

var handlers = map[string]handlerFunc{
	"PING":   cmdPing,
	"ECHO":   cmdEcho,
	"SET":    cmdSet,
	"GET":    cmdGet,
	"INCR":   cmdIncr,
	"TYPE":   cmdType,
	"KEYS":   cmdKeys,
	"CONFIG": cmdConfig,
	"XADD":   cmdXAdd,
	"XRANGE": cmdXRange,
	"XREAD":  cmdXRead,
}

func syntaxErr() []byte {
	var e resp.Encoder
	e.WriteError("ERR syntax error")
	return e.Bytes()
}

func wrongTypeErr() []byte {
	var e resp.Encoder
	e.WriteError("WRONGTYPE Operation against a key holding the wrong kind of value")
	return e.Bytes()
}

func simpleErr(msg string) []byte {
	var e resp.Encoder
	e.WriteError(msg)
	return e.Bytes()
}

func upper(b []byte) string { return strings.ToUpper(string(b)) }

// dispatch classifies the decoded command against the connection's
// transaction state and either executes it, queues it, or (for XREAD
// BLOCK) suspends it.
func (s *Server) dispatch(conn *Connection, tokens [][]byte) (reply []byte, blocked bool) {
	if len(tokens) == 0 {
		return simpleErr("ERR unknown command"), false
	}
	name := upper(tokens[0])

	if conn.State == StateQueuing {
		switch name {
		case "EXEC":
			return s.execTxn(conn), false
		case "DISCARD":
			conn.Txn = nil
			conn.State = StateNormal
			var e resp.Encoder
			e.WriteOK()
			return e.Bytes(), false
		case "MULTI":
			return simpleErr("ERR MULTI calls can not be nested"), false
		default:
			conn.Txn.Queue = append(conn.Txn.Queue, QueuedCommand{Tokens: tokens})
			var e resp.Encoder
			e.WriteQueued()
			return e.Bytes(), false
		}
	}

	switch name {
	case "MULTI":
		conn.State = StateQueuing
		conn.Txn = &TxnState{}
		var e resp.Encoder
		e.WriteOK()
		return e.Bytes(), false
	case "EXEC":
		return simpleErr("ERR EXEC without MULTI"), false
	case "DISCARD":
		return simpleErr("ERR DISCARD without MULTI"), false
	}

	return s.execute(conn, false, tokens)
}

// execute runs a single command immediately (outside the MULTI/EXEC/DISCARD
// gating handled by dispatch).
func (s *Server) execute(conn *Connection, inTxn bool, tokens [][]byte) (reply []byte, blocked bool) {
	name := upper(tokens[0])
	h, ok := handlers[name]
	if !ok {
		return simpleErr("ERR unknown command"), false
	}
	ctx := &execCtx{srv: s, conn: conn, inTxn: inTxn}
	return h(ctx, tokens)
}

// execTxn runs the queued commands of conn's transaction in FIFO order,
// replacing only the offending element's reply on a per-command error
//, then clears the transaction state.
func (s *Server) execTxn(conn *Connection) []byte {
	queue := conn.Txn.Queue
	conn.Txn = nil
	conn.State = StateNormal

	var e resp.Encoder
	e.WriteArrayHeader(len(queue))
	for _, qc := range queue {
		reply, blocked := s.execute(conn, true, qc.Tokens)
		if blocked {
			// XREAD never blocks inside MULTI; cmdXRead guarantees this via
			// inTxn, but guard against a future handler regression rather than
			// silently producing a malformed array.
			var nullEnc resp.Encoder
			nullEnc.WriteEmptyArray()
			reply = nullEnc.Bytes()
		}
		e.Buf = append(e.Buf, reply...)
	}
	return e.Bytes()
}

func cmdPing(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	var e resp.Encoder
	e.WritePong()
	return e.Bytes(), false
}

func cmdEcho(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 2 {
		return syntaxErr(), false
	}
	var e resp.Encoder
	e.WriteBulkString(tokens[1])
	return e.Bytes(), false
}

func cmdSet(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) < 3 {
		return syntaxErr(), false
	}
	key, value := tokens[1], tokens[2]
	if ctx.srv.typeOf(key) == "stream" {
		return wrongTypeErr(), false
	}

	var ttlMS int64
	hasTTL := false
	if len(tokens) > 3 {
		if len(tokens) != 5 || upper(tokens[3]) != "PX" {
			return syntaxErr(), false
		}
		ms, err := strconv.ParseInt(string(tokens[4]), 10, 64)
		if err != nil {
			return syntaxErr(), false
		}
		ttlMS, hasTTL = ms, true
	}

	ctx.srv.strings.Set(key, value, ttlMS, hasTTL)
	var e resp.Encoder
	e.WriteOK()
	return e.Bytes(), false
}

func cmdGet(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 2 {
		return syntaxErr(), false
	}
	if ctx.srv.typeOf(tokens[1]) == "stream" {
		return wrongTypeErr(), false
	}
	var e resp.Encoder
	v, ok := ctx.srv.strings.Get(tokens[1])
	if !ok {
		e.WriteNullBulk()
		return e.Bytes(), false
	}
	e.WriteBulkString(v)
	return e.Bytes(), false
}

func cmdIncr(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 2 {
		return syntaxErr(), false
	}
	if ctx.srv.typeOf(tokens[1]) == "stream" {
		return wrongTypeErr(), false
	}
	n, err := ctx.srv.strings.Incr(tokens[1])
	var e resp.Encoder
	if err != nil {
		e.WriteError("ERR " + err.Error())
		return e.Bytes(), false
	}
	e.WriteInteger(n)
	return e.Bytes(), false
}

func cmdType(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 2 {
		return syntaxErr(), false
	}
	var e resp.Encoder
	e.WriteSimpleString(ctx.srv.typeOf(tokens[1]))
	return e.Bytes(), false
}

func cmdKeys(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 2 {
		return syntaxErr(), false
	}
	// Pattern support is out of scope; "*" and anything else match all.
	var out []string
	for _, k := range ctx.srv.strings.Keys() {
		out = append(out, string(k))
	}
	for name := range ctx.srv.streams {
		out = append(out, name)
	}
	var e resp.Encoder
	e.WriteStringArray(out)
	return e.Bytes(), false
}

func cmdConfig(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 3 || upper(tokens[1]) != "GET" {
		return syntaxErr(), false
	}
	param := string(tokens[2])
	var e resp.Encoder
	val, ok := ctx.srv.Cfg.get(param)
	if !ok {
		e.WriteEmptyArray()
		return e.Bytes(), false
	}
	e.WriteStringArray([]string{param, val})
	return e.Bytes(), false
}

func cmdXAdd(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) < 5 {
		return syntaxErr(), false
	}
	key := string(tokens[1])
	if ctx.srv.typeOf(tokens[1]) == "string" {
		return wrongTypeErr(), false
	}

	fieldArgs := tokens[3:]
	if len(fieldArgs)%2 != 0 {
		return syntaxErr(), false
	}

	st := ctx.srv.getOrCreateStream(key)

	id, err := streams.ParseXADDID(string(tokens[2]), st.LastID, st.Empty(), uint64(ctx.srv.nowMS()))
	if err != nil {
		return simpleErr("ERR " + err.Error()), false
	}
	if id.IsZero() {
		return simpleErr("ERR The ID specified in XADD must be greater than 0-0"), false
	}
	if !st.Empty() && !id.Greater(st.LastID) {
		return simpleErr("ERR The ID specified in XADD is equal or smaller than the target stream top item"), false
	}

	fields := make([]streams.FieldValue, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, streams.FieldValue{Name: fieldArgs[i], Value: fieldArgs[i+1]})
	}
	st.Put(id, fields)

	ctx.srv.wakeWaitersOn(key, id)

	var e resp.Encoder
	e.WriteBulkStringStr(id.String())
	return e.Bytes(), false
}

func cmdXRange(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	if len(tokens) != 4 {
		return syntaxErr(), false
	}
	if ctx.srv.typeOf(tokens[1]) == "string" {
		return wrongTypeErr(), false
	}
	st, ok := ctx.srv.getStream(string(tokens[1]))
	var e resp.Encoder
	if !ok {
		e.WriteEmptyArray()
		return e.Bytes(), false
	}
	from, err := streams.ParseRangeBound(string(tokens[2]), true)
	if err != nil {
		return syntaxErr(), false
	}
	to, err := streams.ParseRangeBound(string(tokens[3]), false)
	if err != nil {
		return syntaxErr(), false
	}
	writeEntries(&e, st.Range(from, to))
	return e.Bytes(), false
}

func cmdXRead(ctx *execCtx, tokens [][]byte) ([]byte, bool) {
	i := 1
	blockMS := int64(-1)
	haveBlock := false
	for i < len(tokens) {
		switch upper(tokens[i]) {
		case "BLOCK":
			if i+1 >= len(tokens) {
				return syntaxErr(), false
			}
			ms, err := strconv.ParseInt(string(tokens[i+1]), 10, 64)
			if err != nil || ms < 0 {
				return syntaxErr(), false
			}
			blockMS, haveBlock = ms, true
			i += 2
		case "COUNT":
			// Accepted for wire compatibility; not a cap on the reply.
			if i+1 >= len(tokens) {
				return syntaxErr(), false
			}
			i += 2
		case "STREAMS":
			i++
			goto streamsParsed
		default:
			return syntaxErr(), false
		}
	}
	return syntaxErr(), false

streamsParsed:
	rest := tokens[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return syntaxErr(), false
	}
	n := len(rest) / 2
	names := rest[:n]
	sinceRaw := rest[n:]

	watches := make([]Watch, n)
	for k := 0; k < n; k++ {
		name := string(names[k])
		var since streams.EntryID
		if string(sinceRaw[k]) == "$" {
			if st, ok := ctx.srv.getStream(name); ok {
				since = st.LastID
			} else {
				since = streams.MinID
			}
		} else {
			id, err := streams.ParseSinceID(string(sinceRaw[k]))
			if err != nil {
				return syntaxErr(), false
			}
			since = id
		}
		watches[k] = Watch{Stream: name, Since: since}
	}

	if reply, any := collectXRead(ctx.srv, watches); any {
		return reply, false
	}

	if ctx.inTxn || !haveBlock {
		var e resp.Encoder
		e.WriteEmptyArray()
		return e.Bytes(), false
	}

	deadline := noDeadline
	if blockMS > 0 {
		deadline = ctx.srv.nowMS() + blockMS
	}
	ctx.srv.blocking.Register(&Waiter{ConnFD: ctx.conn.FD, Deadline: deadline, Watches: watches})
	ctx.conn.State = StateBlocked
	ctx.conn.Waiter = ctx.srv.blocking.byConn[ctx.conn.FD]
	return nil, true
}

// collectXRead gathers, for each watch, entries strictly newer than its
// since-id, and encodes the XREAD reply shape if any watched stream has
// new entries.
func collectXRead(s *Server, watches []Watch) (reply []byte, any bool) {
	type hit struct {
		name    string
		entries []streams.Entry
	}
	var hits []hit
	for _, w := range watches {
		st, ok := s.getStream(w.Stream)
		if !ok {
			continue
		}
		entries := st.After(w.Since)
		if len(entries) > 0 {
			hits = append(hits, hit{name: w.Stream, entries: entries})
		}
	}
	if len(hits) == 0 {
		return nil, false
	}

	var e resp.Encoder
	e.WriteArrayHeader(len(hits))
	for _, h := range hits {
		e.WriteArrayHeader(2)
		e.WriteBulkStringStr(h.name)
		writeEntries(&e, h.entries)
	}
	return e.Bytes(), true
}

// wakeWaitersOn wakes every waiter registered against streamName whose
// watched since-id is now satisfied by newID. A waiter may watch several
// streams; it is only woken (and deregistered from all of them) once all
// of its current matches are collected. The woken connection's fd is armed
// for EPOLLIN only and won't see a write-readiness event on its own, so this
// flushes it directly through flushConn rather than waiting for one.
func (s *Server) wakeWaitersOn(streamName string, newID streams.EntryID) {
	for _, fd := range s.blocking.WaitersOn(streamName) {
		w, ok := s.blocking.Waiter(fd)
		if !ok {
			continue
		}
		reply, any := collectXRead(s, w.Watches)
		if !any {
			continue
		}
		conn, ok := s.conns[fd]
		if !ok {
			s.blocking.Deregister(fd)
			continue
		}
		s.blocking.Deregister(fd)
		conn.State = StateNormal
		conn.Waiter = nil
		conn.queueWrite(reply)
		if s.flushConn != nil {
			s.flushConn(fd)
		}
	}
}

func writeEntries(e *resp.Encoder, entries []streams.Entry) {
	e.WriteArrayHeader(len(entries))
	for _, entry := range entries {
		e.WriteArrayHeader(2)
		e.WriteBulkStringStr(entry.ID.String())
		e.WriteArrayHeader(len(entry.Fields) * 2)
		for _, f := range entry.Fields {
			e.WriteBulkString(f.Name)
			e.WriteBulkString(f.Value)
		}
	}
}
