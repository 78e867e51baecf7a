package errors

import "fmt"

// StoreError indicates a failure talking to the record or dedup store.
// Store errors are treated as transient: the bus redelivers the event with
// backoff and dead-letters it once attempts are exhausted.
type StoreError struct {
	Op      string // e.g. "save_entry", "list_entries", "dedup_insert"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("store %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ValidationError indicates user input that cannot become a domain request.
// Validation errors are reported to the user through the notifier and never
// retried; they leave no persisted side effect.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ConsistencyError indicates a detected invariant violation, such as a write
// observed after a delete claimed completion for the same user. These are
// prevented by per-user write serialization; if one surfaces anyway it is
// fatal to the operation and parked for manual reconciliation.
type ConsistencyError struct {
	PseudoID string
	Message  string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation for %s: %s", e.PseudoID, e.Message)
}
