// Package shared contains common domain types and errors that are used
// across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be used for error checking with errors.Is().
var (
	// ErrAccountCreation marks a failed account registration.
	ErrAccountCreation = errors.New("account creation failed")

	// ErrWrite marks a failed document write.
	ErrWrite = errors.New("write failed")

	// ErrRead marks a failed document read or listing.
	ErrRead = errors.New("read failed")

	// ErrConfiguration marks an invalid run configuration.
	// It is the only kind allowed to abort a run, and only at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput marks arguments rejected before reaching a backend.
	ErrInvalidInput = errors.New("invalid input")

	// ErrServiceUnavailable marks a backend that refuses work (closed pool,
	// open circuit).
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "scheduler", "backend", "config"
	Op      string // Operation that failed, e.g., "AddDocument"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ConfigurationError builds a configuration error for the given component.
func ConfigurationError(domain, message string) *DomainError {
	return NewDomainError(domain, "Configure", ErrConfiguration, message)
}

// IsConfigurationError reports whether err is (or wraps) a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// KindOf returns the taxonomy kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrAccountCreation, ErrWrite, ErrRead, ErrConfiguration} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
