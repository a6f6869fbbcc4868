// Package errors provides enhanced error handling with categories,
// component tracking and structured context. It is a drop-in wrapper around
// the standard library errors package.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory represents different categories of errors for grouping and
// for deciding whether an operation is worth retrying.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"    // programmer error, fail fast
	CategoryConfiguration ErrorCategory = "configuration" // bad or missing configuration
	CategoryNetwork       ErrorCategory = "network"       // transient upstream failure
	CategoryHTTP          ErrorCategory = "http-request"  // permanent HTTP failure (4xx)
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict" // uniqueness conflict, already satisfied
	CategoryDatabase      ErrorCategory = "database"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFileParsing   ErrorCategory = "file-parsing" // malformed archive or document
	CategoryLimit         ErrorCategory = "limit"        // rate limiting
	CategoryGeneric       ErrorCategory = "generic"
)

// EnhancedError wraps an error with category, component and context metadata.
type EnhancedError struct {
	Err       error          // original error
	Component string         // component where the error occurred
	Category  ErrorCategory  // error category for grouping
	Context   map[string]any // additional context data
	Timestamp time.Time      // when the error occurred
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches either the wrapped error or another EnhancedError with the same
// category.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return errors.Is(ee.Err, target)
}

// ErrorBuilder provides a fluent interface for building enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder from an existing error
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{
		err:      err,
		category: CategoryGeneric,
	}
}

// Newf creates a new error builder with a formatted message
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Wrap is an alias for New for more natural wrapping syntax
func Wrap(err error) *ErrorBuilder {
	return New(err)
}

// Component sets the component where the error occurred
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key-value pair of context data
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the final EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	return &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// IsCategory reports whether err is an EnhancedError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if errors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}

// IsTransient reports whether err represents a transient upstream failure
// worth retrying on the next scheduled run.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryNetwork) || IsCategory(err, CategoryLimit)
}

// IsNotFound reports whether err represents a not-found condition.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// Standard library passthroughs so callers only import this package.

func NewStd(text string) error              { return errors.New(text) }
func Is(err, target error) bool             { return errors.Is(err, target) }
func As(err error, target any) bool         { return errors.As(err, target) }
func Unwrap(err error) error                { return errors.Unwrap(err) }
func Join(errs ...error) error              { return errors.Join(errs...) }
