package store

import "fmt"

// NotFoundError indicates the resource was not found (or user lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates insufficient access. Capability names the missing
// permission when the denial came from permission resolution.
type ForbiddenError struct {
	Capability string
}

func (e *ForbiddenError) Error() string {
	if e.Capability != "" {
		return "forbidden: missing " + e.Capability
	}
	return "forbidden"
}

// ReconciliationNeededError reports a message document that was written while the
// relational commit failed. Compensated is true when the orphan was deleted again.
type ReconciliationNeededError struct {
	ChatID      string
	MessageID   string
	Compensated bool
	Cause       error
}

func (e *ReconciliationNeededError) Error() string {
	return fmt.Sprintf("message %s in chat %s needs reconciliation (compensated=%t): %v", e.MessageID, e.ChatID, e.Compensated, e.Cause)
}

func (e *ReconciliationNeededError) Unwrap() error { return e.Cause }

// TransientCacheError wraps a cache failure. It is logged, never returned to users.
type TransientCacheError struct {
	Op    string
	Cause error
}

func (e *TransientCacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Cause)
}

func (e *TransientCacheError) Unwrap() error { return e.Cause }
