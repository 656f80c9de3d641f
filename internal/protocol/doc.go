// Package protocol defines the frames exchanged between a driver and an
// external agent, and the synchronous request/reply discipline over them.
//
// The exchange is strictly half-duplex:
//
//	agent  -> driver : Ready            (exactly once, after spawn)
//	driver -> agent  : Command          (one at a time)
//	agent  -> driver : Response         (exactly one per Command)
//
// Every frame carries a kind tag so a reader can tell a misplaced or
// corrupted frame from a legitimate one. A Response is a tagged two-case
// result: an outcome carrying the boolean result of a transaction attempt,
// or a fault meaning the agent refused the command. Channel failures are not
// frames at all; they surface as errors from Conn.
package protocol
