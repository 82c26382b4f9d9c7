package recording

import (
	"errors"
	"fmt"
)

// RecorderError indicates a recording operation failed for a camera.
type RecorderError struct {
	Camera string
	Reason string
	Cause  error
}

func (e *RecorderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("recording error for camera '%s': %s: %v", e.Camera, e.Reason, e.Cause)
	}
	return fmt.Sprintf("recording error for camera '%s': %s", e.Camera, e.Reason)
}

func (e *RecorderError) Unwrap() error {
	return e.Cause
}

// NewRecorderError creates a new RecorderError
func NewRecorderError(camera, reason string, cause error) *RecorderError {
	return &RecorderError{Camera: camera, Reason: reason, Cause: cause}
}

// IsRecorderError checks if an error is a RecorderError
func IsRecorderError(err error) bool {
	var recorderErr *RecorderError
	return errors.As(err, &recorderErr)
}
