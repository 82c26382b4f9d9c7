package session

import (
	"errors"
	"fmt"
	"time"
)

// ConnectError indicates the initial connect attempt for a camera failed.
// Initial failures are reported immediately and consume no reconnect
// budget.
type ConnectError struct {
	Camera string
	Cause  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect camera '%s': %v", e.Camera, e.Cause)
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// NewConnectError creates a new ConnectError
func NewConnectError(camera string, cause error) *ConnectError {
	return &ConnectError{Camera: camera, Cause: cause}
}

// IsConnectError checks if an error is a ConnectError
func IsConnectError(err error) bool {
	var connectErr *ConnectError
	return errors.As(err, &connectErr)
}

// StreamStallError indicates a connected stream stopped delivering frames
// past the liveness timeout.
type StreamStallError struct {
	Camera    string
	LastFrame time.Time
}

func (e *StreamStallError) Error() string {
	if e.LastFrame.IsZero() {
		return fmt.Sprintf("stream stalled for camera '%s': no frames received", e.Camera)
	}
	return fmt.Sprintf("stream stalled for camera '%s': last frame at %s", e.Camera, e.LastFrame.Format(time.RFC3339))
}

// NewStreamStallError creates a new StreamStallError
func NewStreamStallError(camera string, lastFrame time.Time) *StreamStallError {
	return &StreamStallError{Camera: camera, LastFrame: lastFrame}
}

// IsStreamStallError checks if an error is a StreamStallError
func IsStreamStallError(err error) bool {
	var stallErr *StreamStallError
	return errors.As(err, &stallErr)
}

// ReconnectExhaustedError indicates the reconnect budget was spent without
// restoring the stream. The session is in the Error state afterwards and
// needs an explicit restart.
type ReconnectExhaustedError struct {
	Camera   string
	Attempts int
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("gave up reconnecting camera '%s' after %d attempts", e.Camera, e.Attempts)
}

// NewReconnectExhaustedError creates a new ReconnectExhaustedError
func NewReconnectExhaustedError(camera string, attempts int) *ReconnectExhaustedError {
	return &ReconnectExhaustedError{Camera: camera, Attempts: attempts}
}

// IsReconnectExhaustedError checks if an error is a ReconnectExhaustedError
func IsReconnectExhaustedError(err error) bool {
	var exhaustedErr *ReconnectExhaustedError
	return errors.As(err, &exhaustedErr)
}

// PreconditionError indicates an operation was rejected because the
// session is not in a state that allows it. No state change occurs.
type PreconditionError struct {
	Camera    string
	Operation string
	State     State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s camera '%s' while %s", e.Operation, e.Camera, e.State)
}

// NewPreconditionError creates a new PreconditionError
func NewPreconditionError(camera, operation string, state State) *PreconditionError {
	return &PreconditionError{Camera: camera, Operation: operation, State: state}
}

// IsPreconditionError checks if an error is a PreconditionError
func IsPreconditionError(err error) bool {
	var preconditionErr *PreconditionError
	return errors.As(err, &preconditionErr)
}
