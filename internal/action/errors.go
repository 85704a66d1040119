package action

import "errors"

var (
	// ErrNotFound reports an unknown definition or instance id.
	ErrNotFound = errors.New("not found")

	// ErrInactiveSchedule reports a window request against a definition
	// with Active == false.
	ErrInactiveSchedule = errors.New("schedule is inactive")

	// ErrOutOfRange reports an instant preceding the schedule anchor,
	// from callers that asked for strict pre-anchor rejection.
	ErrOutOfRange = errors.New("instant precedes schedule anchor")

	// ErrAlreadyCompleted reports a second completion when overwriting
	// is disabled by policy.
	ErrAlreadyCompleted = errors.New("instance already completed")

	// ErrStoreUnavailable reports a store operation that exceeded its
	// deadline or hit transient infrastructure failure. The core never
	// retries; callers may.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrValidation is the sentinel all ValidationErrors unwrap to.
	ErrValidation = errors.New("validation failed")
)

// ValidationError rejects a malformed definition field before anything
// reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
