package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigNotFound indicates the configuration file was not found
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidJSON indicates JSON parsing failed
	ErrInvalidJSON = errors.New("invalid JSON syntax")

	// ErrValidationFailed indicates configuration validation failed
	ErrValidationFailed = errors.New("configuration validation failed")
)

// ValidationError collects every invalid config path found during a
// strict validation pass, so the user sees all problems at once
// rather than one per run.
type ValidationError struct {
	Paths []string
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config values at: %s", strings.Join(e.Paths, ", "))
}

// Unwrap ties the error to ErrValidationFailed for errors.Is checks.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// LoadError wraps configuration loading errors with file context.
type LoadError struct {
	File string
	Err  error
}

// Error returns the formatted error message.
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}
