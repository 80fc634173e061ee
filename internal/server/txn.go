package server

// QueuedCommand is one command enqueued during MULTI: the raw decoded
// tokens, preserved verbatim so EXEC can run each one through the normal
// dispatch path. Nothing about a queued command is validated until EXEC
// actually executes it.
type QueuedCommand struct {
	Tokens [][]byte
}

// TxnState is a connection's pending MULTI queue. Created by MULTI, cleared
// by EXEC, DISCARD, or disconnect.
type TxnState struct {
	Queue []QueuedCommand
}
