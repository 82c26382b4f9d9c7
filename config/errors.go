package config

import "fmt"

// ConfigError indicates a malformed camera or application config entry.
// The registry surfaces it and skips starting the affected camera.
type ConfigError struct {
	Camera string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Camera == "" {
		return fmt.Sprintf("invalid configuration (%s): %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for camera %q (%s): %s", e.Camera, e.Field, e.Reason)
}

func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}

func NewConfigError(camera, field, reason string) error {
	return &ConfigError{
		Camera: camera,
		Field:  field,
		Reason: reason,
	}
}
