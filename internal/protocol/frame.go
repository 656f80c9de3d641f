package protocol

import (
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Frame kinds.
const (
	KindReady    = "ready"
	KindCommand  = "command"
	KindResponse = "response"
)

// OpTransaction asks the agent to attempt one transaction on a database.
// It is the only operation an agent understands.
const OpTransaction = "transaction"

// Status discriminates the two cases of a Response.
type Status uint8

const (
	// StatusOutcome means OK carries the result of the transaction attempt.
	StatusOutcome Status = 1

	// StatusFault means the agent refused the command without attempting it.
	StatusFault Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOutcome:
		return "outcome"
	case StatusFault:
		return "fault"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ErrMalformed is returned when a frame decodes but is not the frame the
// protocol expects at that point.
var ErrMalformed = errors.New("malformed frame")

// Ready is sent once by the agent when its receive loop is active.
type Ready struct {
	Kind    string `cbor:"kind"`
	Session string `cbor:"session"`
	PID     int    `cbor:"pid"`
	Driver  string `cbor:"driver"`
}

// NewReady builds the readiness frame for the given session.
func NewReady(session string, pid int, driver string) Ready {
	return Ready{Kind: KindReady, Session: session, PID: pid, Driver: driver}
}

// Validate checks the frame kind and required fields.
func (r Ready) Validate() error {
	if r.Kind != KindReady {
		return fmt.Errorf("%w: expected %s, got kind %q", ErrMalformed, KindReady, r.Kind)
	}
	if r.Session == "" {
		return fmt.Errorf("%w: ready frame without session", ErrMalformed)
	}
	return nil
}

// Command is a request from the driver naming the database to attempt a
// transaction on.
type Command struct {
	Kind string `cbor:"kind"`
	Op   string `cbor:"op"`
	Path string `cbor:"path"`
}

// NewTransaction builds a transaction command for path. The path is
// normalized to NFC so that driver and agent open the same file even when
// the caller's string uses decomposed forms.
func NewTransaction(path string) Command {
	return Command{Kind: KindCommand, Op: OpTransaction, Path: norm.NFC.String(path)}
}

// Validate checks the frame kind, operation and path.
// A frame with the wrong kind is malformed; a well-formed command the agent
// cannot serve returns a plain error.
func (c Command) Validate() error {
	if c.Kind != KindCommand {
		return fmt.Errorf("%w: expected %s, got kind %q", ErrMalformed, KindCommand, c.Kind)
	}
	if c.Op != OpTransaction {
		return fmt.Errorf("unknown op %q", c.Op)
	}
	if c.Path == "" {
		return fmt.Errorf("empty database path")
	}
	return nil
}

// Response is the agent's reply to exactly one Command.
//
// OK is a pointer so that an outcome frame missing its result is rejected
// rather than read as false.
type Response struct {
	Kind   string `cbor:"kind"`
	Status Status `cbor:"status"`
	OK     *bool  `cbor:"ok,omitempty"`
	Reason string `cbor:"reason,omitempty"`
}

// Outcome builds a response carrying the result of a transaction attempt.
// reason is informational and usually holds the engine error on failure.
func Outcome(ok bool, reason string) Response {
	return Response{Kind: KindResponse, Status: StatusOutcome, OK: &ok, Reason: reason}
}

// Acquired reports whether an outcome response says the transaction
// committed.
func (r Response) Acquired() bool {
	return r.Status == StatusOutcome && r.OK != nil && *r.OK
}

// Fault builds a response refusing a command.
func Fault(reason string) Response {
	return Response{Kind: KindResponse, Status: StatusFault, Reason: reason}
}

// Validate checks the frame kind and status, that an outcome carries its
// result, and that a fault never claims success.
func (r Response) Validate() error {
	if r.Kind != KindResponse {
		return fmt.Errorf("%w: expected %s, got kind %q", ErrMalformed, KindResponse, r.Kind)
	}
	switch r.Status {
	case StatusOutcome:
		if r.OK == nil {
			return fmt.Errorf("%w: outcome response without ok", ErrMalformed)
		}
	case StatusFault:
		if r.OK != nil && *r.OK {
			return fmt.Errorf("%w: fault response with ok set", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown status %d", ErrMalformed, uint8(r.Status))
	}
	return nil
}
