// Package resp implements the subset of the Redis Serialization Protocol
// (RESP2) this server speaks: array and bulk-string decoding for inbound
// commands, and simple-string/bulk-string/integer/array/error/null encoding
// for replies.
package resp

import "strconv"

const (
	simpleStrPrefix = '+'
	errPrefix       = '-'
	intPrefix       = ':'
	bulkStrPrefix   = '$'
	arrPrefix       = '*'
	crlf            = "\r\n"
)

var (
	nullBulkBytes = []byte("$-1\r\n")
	nullArrBytes  = []byte("*-1\r\n")
	emptyArrBytes = []byte("*0\r\n")
	pongBytes     = []byte("+PONG\r\n")
	okBytes       = []byte("+OK\r\n")
	queuedBytes   = []byte("+QUEUED\r\n")
)

// Encoder accumulates a reply as a contiguous byte sequence. The zero value
// is ready to use. Buf is exported so callers can write the final reply out
// in one go and then discard or reuse the Encoder via Reset.
type Encoder struct {
	Buf []byte
}

func (e *Encoder) Reset() { e.Buf = e.Buf[:0] }

// Bytes returns the accumulated reply.
func (e *Encoder) Bytes() []byte { return e.Buf }

func (e *Encoder) WriteOK()     { e.Buf = append(e.Buf, okBytes...) }
func (e *Encoder) WritePong()   { e.Buf = append(e.Buf, pongBytes...) }
func (e *Encoder) WriteQueued() { e.Buf = append(e.Buf, queuedBytes...) }

func (e *Encoder) WriteSimpleString(s string) {
	e.Buf = append(e.Buf, simpleStrPrefix)
	e.Buf = append(e.Buf, s...)
	e.Buf = append(e.Buf, crlf...)
}

// WriteError writes msg as a RESP error. msg must not already carry the
// leading '-'; callers pass the human-readable text (e.g. "ERR unknown
// command").
func (e *Encoder) WriteError(msg string) {
	e.Buf = append(e.Buf, errPrefix)
	e.Buf = append(e.Buf, msg...)
	e.Buf = append(e.Buf, crlf...)
}

func (e *Encoder) WriteInteger(n int64) {
	e.Buf = append(e.Buf, intPrefix)
	e.Buf = strconv.AppendInt(e.Buf, n, 10)
	e.Buf = append(e.Buf, crlf...)
}

func (e *Encoder) WriteBulkString(val []byte) {
	e.Buf = append(e.Buf, bulkStrPrefix)
	e.Buf = strconv.AppendInt(e.Buf, int64(len(val)), 10)
	e.Buf = append(e.Buf, crlf...)
	e.Buf = append(e.Buf, val...)
	e.Buf = append(e.Buf, crlf...)
}

func (e *Encoder) WriteBulkStringStr(val string) {
	e.Buf = append(e.Buf, bulkStrPrefix)
	e.Buf = strconv.AppendInt(e.Buf, int64(len(val)), 10)
	e.Buf = append(e.Buf, crlf...)
	e.Buf = append(e.Buf, val...)
	e.Buf = append(e.Buf, crlf...)
}

func (e *Encoder) WriteNullBulk()   { e.Buf = append(e.Buf, nullBulkBytes...) }
func (e *Encoder) WriteNullArray()  { e.Buf = append(e.Buf, nullArrBytes...) }
func (e *Encoder) WriteEmptyArray() { e.Buf = append(e.Buf, emptyArrBytes...) }

// WriteArrayHeader writes the "*N\r\n" prefix of an array reply; the caller
// is responsible for then writing exactly n elements.
func (e *Encoder) WriteArrayHeader(n int) {
	e.Buf = append(e.Buf, arrPrefix)
	e.Buf = strconv.AppendInt(e.Buf, int64(n), 10)
	e.Buf = append(e.Buf, crlf...)
}

// WriteStringArray is a convenience for the common case of an array of
// plain bulk strings (used by KEYS and CONFIG GET).
func (e *Encoder) WriteStringArray(items []string) {
	e.WriteArrayHeader(len(items))
	for _, it := range items {
		e.WriteBulkStringStr(it)
	}
}
