package util

import (
	"fmt"
)

// ConfigurationError is returned for problems detected before any frame is
// processed: bad model paths, class counts, unreadable inputs or output
// locations that cannot be created.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InferenceError is returned when the engine fails on a frame, or returns
// something the pipeline cannot apply to the frame.
type InferenceError struct {
	Frame int
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference on frame %d: %v", e.Frame, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IOError wraps read failures from a source and write or finalize failures
// from a sink.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ConfigErrorf(op, format string, args ...interface{}) error {
	return &ConfigurationError{Op: op, Err: fmt.Errorf(format, args...)}
}
