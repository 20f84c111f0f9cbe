package config

import (
	"errors"
	"fmt"
)

// Sentinel errors, grounded on the teacher's pkg/config/errors.go.
var (
	ErrConfigNotFound   = errors.New("config: file not found")
	ErrInvalidYAML      = errors.New("config: invalid yaml")
	ErrValidationFailed = errors.New("config: validation failed")
)

// LoadError wraps a failure encountered while reading or parsing a
// configuration file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config: loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ValidationError wraps a single field-level validation failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
