package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors carried by FaultError.
var (
	// ErrInvalidHandle is returned for NoAgent, unknown and closed handles.
	ErrInvalidHandle = errors.New("invalid agent handle")

	// ErrChannel is returned when the channel to the agent failed: the
	// agent died, the pipe closed, or a frame was missing or malformed.
	ErrChannel = errors.New("agent channel failed")

	// ErrRejected is returned when the agent refused a command without
	// attempting it.
	ErrRejected = errors.New("agent rejected command")

	// ErrLaunch is returned when an agent could not be started.
	ErrLaunch = errors.New("agent launch failed")
)

// FaultCode categorizes faults.
type FaultCode string

const (
	CodeInvalidHandle FaultCode = "INVALID_HANDLE"
	CodeChannel       FaultCode = "CHANNEL"
	CodeRejected      FaultCode = "REJECTED"
	CodeLaunch        FaultCode = "LAUNCH"
)

// FaultError reports a failure of the harness itself, as opposed to a
// failed transaction attempt.
type FaultError struct {
	// Code identifies the fault category.
	Code FaultCode

	// Handle is the affected handle, or NoAgent for launch faults.
	Handle Handle

	// Message is a human-readable description.
	Message string

	// Err wraps one of the sentinel errors and, when known, the cause.
	Err error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Handle != NoAgent {
		msg = fmt.Sprintf("%s (handle=%d)", msg, e.Handle)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error chain.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// IsFault reports whether err is a harness fault rather than nil.
func IsFault(err error) bool {
	var fault *FaultError
	return errors.As(err, &fault)
}

func invalidHandle(h Handle) *FaultError {
	return &FaultError{
		Code:    CodeInvalidHandle,
		Handle:  h,
		Message: "no live agent",
		Err:     ErrInvalidHandle,
	}
}

func channelFault(h Handle, message string, cause error) *FaultError {
	return &FaultError{
		Code:    CodeChannel,
		Handle:  h,
		Message: message,
		Err:     fmt.Errorf("%w: %w", ErrChannel, cause),
	}
}

func launchFault(message string, cause error) *FaultError {
	return &FaultError{
		Code:    CodeLaunch,
		Handle:  NoAgent,
		Message: message,
		Err:     fmt.Errorf("%w: %w", ErrLaunch, cause),
	}
}
