// Package errors provides error categorization and retry strategies for the
// moodpet pipeline.
//
// The package implements a layered error handling approach:
//   - Categorization: classify failures so agents and the bus agree on handling
//   - Retry: handle transient store/transport failures with exponential backoff
//   - Dead-lettering: permanently failed events are parked, never dropped
package errors

import (
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: store unavailable, busy database, temporary I/O failures.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: invalid configuration, consistency violations.
	CategoryPermanent

	// CategoryValidation indicates bad user input.
	// Examples: mood value outside {-1, 0, 1}, malformed command.
	// Reported to the user, never retried, no persisted side effect.
	CategoryValidation

	// CategoryDuplicate indicates a deliberately suppressed duplicate.
	// Not a failure: the outcome is a silent no-op.
	CategoryDuplicate
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryValidation:
		return "validation"
	case CategoryDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Validation creates a validation error.
func Validation(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryValidation, context)
}

// Categorize determines the category of an arbitrary error.
// CategorizedError instances keep their assigned category; everything else
// defaults to permanent so unknown failures are never retried blindly.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var categorized *CategorizedError
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return CategoryTransient
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return CategoryValidation
	}

	return CategoryPermanent
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
