package types

import (
	"errors"
	"fmt"
	"time"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// Error kinds. Every concrete error below matches exactly one of these via errors.Is.
var (
	ErrConnection     = errors.New("connection error")
	ErrProtocolDecode = errors.New("protocol decode error")
	ErrSafetyStop     = errors.New("safety stop")
	ErrMotionTimeout  = errors.New("motion timeout")
	ErrInvalidCommand = errors.New("invalid command")
)

// ConnectionError reports a refused, reset or timed out socket.
type ConnectionError struct {
	Address string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection %s %s failed", e.Op, e.Address)
	}
	return fmt.Sprintf("connection %s %s failed: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolDecodeError reports malformed framing. It is fatal to the connection it came from.
type ProtocolDecodeError struct {
	Stream string
	Offset int
	Reason string
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("%s decode failed at offset %d: %s", e.Stream, e.Offset, e.Reason)
}

func (e *ProtocolDecodeError) Is(target error) bool { return target == ErrProtocolDecode }

// SafetyStopError is returned when the controller reports a protective stop,
// emergency stop or fault while a command is in flight.
type SafetyStopError struct {
	CommandID string
	Mode      string
}

func (e *SafetyStopError) Error() string {
	return fmt.Sprintf("command %s aborted: robot entered %s", e.CommandID, e.Mode)
}

func (e *SafetyStopError) Is(target error) bool { return target == ErrSafetyStop }

// MotionTimeoutError says nothing about whether the arm physically stopped.
type MotionTimeoutError struct {
	CommandID string
	Phase     string
	Limit     time.Duration
}

func (e *MotionTimeoutError) Error() string {
	return fmt.Sprintf("command %s timed out after %s waiting for %s", e.CommandID, e.Limit, e.Phase)
}

func (e *MotionTimeoutError) Is(target error) bool { return target == ErrMotionTimeout }

// InvalidCommandError is raised before anything is written to the controller.
type InvalidCommandError struct {
	Field  string
	Reason string
}

func (e *InvalidCommandError) Error() string {
	if e.Field == "" {
		return "invalid command: " + e.Reason
	}
	return fmt.Sprintf("invalid command: %s: %s", e.Field, e.Reason)
}

func (e *InvalidCommandError) Is(target error) bool { return target == ErrInvalidCommand }

// Invalid is shorthand for building an InvalidCommandError.
func Invalid(field, format string, args ...any) error {
	return &InvalidCommandError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
