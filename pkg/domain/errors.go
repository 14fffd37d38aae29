package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned when a step count, schedule kind or beta bound
// is rejected. Nothing is computed once this error is returned.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrInvalidImageData is returned when an image payload cannot be decoded.
var ErrInvalidImageData = errors.New("invalid image data")

// ErrComputation is returned when frame production fails mid-stream.
var ErrComputation = errors.New("computation failed")

// ErrTransport is returned when the connection carrying a session is lost.
var ErrTransport = errors.New("transport failure")

// ErrScheduleNotRecorded is returned by schedule slots that have never been written.
var ErrScheduleNotRecorded = errors.New("no schedule recorded")

// ErrMetricUnavailable is returned when a diagnostic metric cannot be computed.
// Callers omit the metric instead of failing.
var ErrMetricUnavailable = errors.New("metric unavailable")

// ConfigError describes a single rejected configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidConfiguration).
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsClientError reports whether err was caused by the caller's input rather than
// by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrInvalidImageData)
}
